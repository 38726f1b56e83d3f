package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ListPolicies returns every policy the caller owns, optionally narrowed to
// one resource, with its computed status. Unlike Decrypt this is an owner
// view, so revoked, expired and superseded policies are told apart.
func (s *Service) ListPolicies(ctx context.Context, owner Credential, resourceID string) ([]PolicyView, error) {
	caller, err := s.authenticate(ctx, owner)
	if err != nil {
		return nil, err
	}
	resourceID = strings.TrimSpace(resourceID)
	if resourceID != "" {
		rec, err := s.receipts.GetOwner(ctx, resourceID)
		if err != nil {
			if errors.Is(err, ErrReceiptNotFound) {
				return nil, fail(KindInvalidResource, err)
			}
			return nil, fmt.Errorf("lookup owner of %s: %w", resourceID, err)
		}
		if rec.ID != caller {
			return nil, fail(KindUnauthorized, errors.New("caller is not the owner of record"))
		}
	}

	policies, err := s.policies.ListByOwner(ctx, caller, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	now := s.now()
	type pair struct{ resource, grantee string }
	newest := make(map[pair]*Policy, len(policies))
	for _, p := range policies {
		k := pair{p.ResourceID, p.GranteeID}
		if p.NewerThan(newest[k]) {
			newest[k] = p
		}
	}

	out := make([]PolicyView, 0, len(policies))
	for _, p := range policies {
		status := p.Status(now)
		if status == StatusActive && newest[pair{p.ResourceID, p.GranteeID}] != p {
			status = StatusSuperseded
		}
		out = append(out, viewOf(p, status))
	}
	return out, nil
}

// GetPolicy returns the owner view of a single policy.
func (s *Service) GetPolicy(ctx context.Context, owner Credential, policyID string) (PolicyView, error) {
	caller, err := s.authenticate(ctx, owner)
	if err != nil {
		return PolicyView{}, err
	}
	p, err := s.policies.Get(ctx, strings.TrimSpace(policyID))
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			return PolicyView{}, fail(KindNotFound, err)
		}
		return PolicyView{}, fmt.Errorf("load policy %s: %w", policyID, err)
	}
	if p.OwnerID != caller {
		return PolicyView{}, fail(KindUnauthorized, errors.New("caller does not own the policy"))
	}

	status := p.Status(s.now())
	if status == StatusActive {
		latest, err := s.policies.Latest(ctx, p.ResourceID, p.GranteeID)
		if err != nil {
			return PolicyView{}, fmt.Errorf("load latest policy: %w", err)
		}
		if latest.ID != p.ID {
			status = StatusSuperseded
		}
	}
	return viewOf(p, status), nil
}
