package memorystore

import (
	"context"
	"errors"
	"sync"

	"github.com/PaulFidika/receiptkit/core"
)

// ErrDuplicatePolicy is returned when a policy id is inserted twice.
var ErrDuplicatePolicy = errors.New("duplicate policy id")

// Receipt is an encrypted receipt as held by the receipt repository.
type Receipt struct {
	ID          string
	OwnerID     string
	OwnerKeyRef string
	Ciphertext  core.CiphertextRef
}

// ReceiptStore is an in-memory core.ReceiptStore.
type ReceiptStore struct {
	mu       sync.RWMutex
	receipts map[string]Receipt
}

func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{receipts: make(map[string]Receipt)}
}

// Put inserts or replaces a receipt.
func (s *ReceiptStore) Put(_ context.Context, r Receipt) error {
	if r.ID == "" || r.OwnerID == "" {
		return errors.New("receipt id and owner are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[r.ID] = r
	return nil
}

func (s *ReceiptStore) GetOwner(_ context.Context, resourceID string) (core.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[resourceID]
	if !ok {
		return core.Owner{}, core.ErrReceiptNotFound
	}
	return core.Owner{ID: r.OwnerID, KeyRef: r.OwnerKeyRef}, nil
}

// GetCiphertext treats a receipt stored without a payload as missing.
func (s *ReceiptStore) GetCiphertext(_ context.Context, resourceID string) (core.CiphertextRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[resourceID]
	if !ok || r.Ciphertext == "" {
		return "", core.ErrReceiptNotFound
	}
	return r.Ciphertext, nil
}
