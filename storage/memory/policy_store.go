package memorystore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PaulFidika/receiptkit/core"
)

type pairKey struct {
	resource string
	grantee  string
}

// PolicyStore is an in-memory core.PolicyStore. A single RWMutex makes every
// read and the revoke compare-and-set linearizable. Development and tests.
type PolicyStore struct {
	mu       sync.RWMutex
	seq      int64
	policies map[string]*core.Policy
	byPair   map[pairKey][]string
}

func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		policies: make(map[string]*core.Policy),
		byPair:   make(map[pairKey][]string),
	}
}

func (s *PolicyStore) Create(_ context.Context, p *core.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.policies[p.ID]; exists {
		return ErrDuplicatePolicy
	}
	s.seq++
	p.Seq = s.seq
	s.policies[p.ID] = p.Clone()
	k := pairKey{p.ResourceID, p.GranteeID}
	s.byPair[k] = append(s.byPair[k], p.ID)
	return nil
}

func (s *PolicyStore) Get(_ context.Context, id string) (*core.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, core.ErrPolicyNotFound
	}
	return p.Clone(), nil
}

func (s *PolicyStore) Latest(_ context.Context, resourceID, granteeID string) (*core.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *core.Policy
	for _, id := range s.byPair[pairKey{resourceID, granteeID}] {
		if p := s.policies[id]; p.NewerThan(newest) {
			newest = p
		}
	}
	if newest == nil {
		return nil, core.ErrPolicyNotFound
	}
	return newest.Clone(), nil
}

func (s *PolicyStore) Revoke(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[id]
	if !ok {
		return false, core.ErrPolicyNotFound
	}
	if p.Revoked {
		return false, nil
	}
	p.Revoked = true
	p.RevokedAt = &at
	return true, nil
}

func (s *PolicyStore) ListByOwner(_ context.Context, ownerID, resourceID string) ([]*core.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Policy
	for _, p := range s.policies {
		if p.OwnerID != ownerID || (resourceID != "" && p.ResourceID != resourceID) {
			continue
		}
		out = append(out, p.Clone())
	}
	sortOldestFirst(out)
	return out, nil
}

func (s *PolicyStore) ExpiringBetween(_ context.Context, from, to time.Time) ([]*core.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Policy
	for _, p := range s.policies {
		if p.ExpiresAt == nil {
			continue
		}
		if p.ExpiresAt.After(from) && !p.ExpiresAt.After(to) {
			out = append(out, p.Clone())
		}
	}
	sortOldestFirst(out)
	return out, nil
}

func sortOldestFirst(ps []*core.Policy) {
	sort.Slice(ps, func(i, j int) bool { return ps[j].NewerThan(ps[i]) })
}
