// Package badgerstore is an embedded core.PolicyStore on BadgerDB for
// single-node deployments that want persistence without PostgreSQL.
//
// Layout:
//
//	policy/<id>                                   -> JSON policy
//	pair/<resource>\x00<grantee>\x00<ts>\x00<seq>  -> id
//	owner/<owner>\x00<resource>\x00<id>            -> id
//	exp/<ts>\x00<id>                              -> id
//
// ts and seq are zero-padded decimals so that byte order matches
// numeric order.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PaulFidika/receiptkit/core"
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

const (
	prefixPolicy = "policy/"
	prefixPair   = "pair/"
	prefixOwner  = "owner/"
	prefixExp    = "exp/"
	sep          = "\x00"

	maxConflictRetries = 5
)

// ErrDuplicatePolicy is returned when a policy id already exists.
var ErrDuplicatePolicy = errors.New("duplicate policy id")

type PolicyStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log logrus.FieldLogger
}

// Open opens (or creates) a store at path. An empty path opens an in-memory
// database.
func Open(path string, log logrus.FieldLogger) (*PolicyStore, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	seq, err := db.GetSequence([]byte("seq/policy"), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("badgerstore: sequence: %w", err)
	}
	return &PolicyStore{db: db, seq: seq, log: log}, nil
}

// Close releases leased sequence numbers and closes the database.
func (s *PolicyStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.log.WithError(err).Warn("badgerstore: release sequence")
	}
	return s.db.Close()
}

// RunGC runs value log GC until there is nothing left to rewrite.
func (s *PolicyStore) RunGC(discardRatio float64) {
	for {
		if err := s.db.RunValueLogGC(discardRatio); err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
				s.log.WithError(err).Warn("badgerstore: value log gc")
			}
			return
		}
	}
}

func pad(n int64) string { return fmt.Sprintf("%020d", n) }

func policyKey(id string) []byte { return []byte(prefixPolicy + id) }

func pairPrefix(resourceID, granteeID string) string {
	return prefixPair + resourceID + sep + granteeID + sep
}

func pairKey(p *core.Policy) []byte {
	return []byte(pairPrefix(p.ResourceID, p.GranteeID) + pad(p.CreatedAt.UnixNano()) + sep + pad(p.Seq))
}

func ownerPrefix(ownerID, resourceID string) string {
	if resourceID == "" {
		return prefixOwner + ownerID + sep
	}
	return prefixOwner + ownerID + sep + resourceID + sep
}

func ownerKey(p *core.Policy) []byte {
	return []byte(prefixOwner + p.OwnerID + sep + p.ResourceID + sep + p.ID)
}

func expKey(p *core.Policy) []byte {
	return []byte(prefixExp + pad(p.ExpiresAt.UnixNano()) + sep + p.ID)
}

// update retries fn on transaction conflicts.
func (s *PolicyStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *PolicyStore) Create(_ context.Context, p *core.Policy) error {
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("badgerstore: next seq: %w", err)
	}
	p.Seq = int64(n) + 1
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(policyKey(p.ID)); err == nil {
			return ErrDuplicatePolicy
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		id := []byte(p.ID)
		if err := txn.Set(policyKey(p.ID), data); err != nil {
			return err
		}
		if err := txn.Set(pairKey(p), id); err != nil {
			return err
		}
		if err := txn.Set(ownerKey(p), id); err != nil {
			return err
		}
		if p.ExpiresAt != nil {
			return txn.Set(expKey(p), id)
		}
		return nil
	})
}

func getPolicy(txn *badger.Txn, id string) (*core.Policy, error) {
	item, err := txn.Get(policyKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, core.ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	var p core.Policy
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &p) }); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PolicyStore) Get(_ context.Context, id string) (*core.Policy, error) {
	var p *core.Policy
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = getPolicy(txn, id)
		return err
	})
	return p, err
}

// Latest walks the pair index in reverse; the first key is the newest.
func (s *PolicyStore) Latest(_ context.Context, resourceID, granteeID string) (*core.Policy, error) {
	prefix := []byte(pairPrefix(resourceID, granteeID))
	var p *core.Policy
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Seek(append(append([]byte{}, prefix...), 0xFF))
		if !it.ValidForPrefix(prefix) {
			return core.ErrPolicyNotFound
		}
		id, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		p, err = getPolicy(txn, string(id))
		return err
	})
	return p, err
}

func (s *PolicyStore) Revoke(_ context.Context, id string, at time.Time) (bool, error) {
	var changed bool
	err := s.update(func(txn *badger.Txn) error {
		changed = false
		p, err := getPolicy(txn, id)
		if err != nil {
			return err
		}
		if p.Revoked {
			return nil
		}
		p.Revoked = true
		p.RevokedAt = &at
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		changed = true
		return txn.Set(policyKey(id), data)
	})
	return changed, err
}

func (s *PolicyStore) ListByOwner(_ context.Context, ownerID, resourceID string) ([]*core.Policy, error) {
	var out []*core.Policy
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := collectIDs(txn, []byte(ownerPrefix(ownerID, resourceID)), nil)
		if err != nil {
			return err
		}
		out, err = loadAll(txn, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortOldestFirst(out)
	return out, nil
}

func (s *PolicyStore) ExpiringBetween(_ context.Context, from, to time.Time) ([]*core.Policy, error) {
	lo, hi := from.UnixNano(), to.UnixNano()
	var out []*core.Policy
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := collectIDs(txn, []byte(prefixExp), func(key string) (include, stop bool) {
			ts, _, _ := strings.Cut(strings.TrimPrefix(key, prefixExp), sep)
			n, err := strconv.ParseInt(ts, 10, 64)
			if err != nil {
				return false, false
			}
			return n > lo && n <= hi, n > hi
		})
		if err != nil {
			return err
		}
		out, err = loadAll(txn, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortOldestFirst(out)
	return out, nil
}

func collectIDs(txn *badger.Txn, prefix []byte, filter func(key string) (include, stop bool)) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		if filter != nil {
			include, stop := filter(string(item.Key()))
			if stop {
				break
			}
			if !include {
				continue
			}
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		ids = append(ids, string(v))
	}
	return ids, nil
}

func loadAll(txn *badger.Txn, ids []string) ([]*core.Policy, error) {
	out := make([]*core.Policy, 0, len(ids))
	for _, id := range ids {
		p, err := getPolicy(txn, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func sortOldestFirst(ps []*core.Policy) {
	sort.Slice(ps, func(i, j int) bool { return ps[j].NewerThan(ps[i]) })
}
