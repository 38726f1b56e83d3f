package pgstore

import (
	"context"
	"errors"

	"github.com/PaulFidika/receiptkit/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReceiptStore reads receipt ownership and ciphertext pointers from
// <schema>.receipts. Receipts are written by the minting pipeline; Put exists
// for seeding and tests.
type ReceiptStore struct {
	pg     *pgxpool.Pool
	schema string
}

func NewReceiptStore(pg *pgxpool.Pool, schema string) *ReceiptStore {
	return &ReceiptStore{pg: pg, schema: schemaOrDefault(schema)}
}

func (s *ReceiptStore) table() string { return s.schema + ".receipts" }

func (s *ReceiptStore) GetOwner(ctx context.Context, resourceID string) (core.Owner, error) {
	var o core.Owner
	err := s.pg.QueryRow(ctx, `SELECT owner_id, owner_key_ref FROM `+s.table()+` WHERE id=$1`, resourceID).Scan(&o.ID, &o.KeyRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Owner{}, core.ErrReceiptNotFound
	}
	return o, err
}

func (s *ReceiptStore) GetCiphertext(ctx context.Context, resourceID string) (core.CiphertextRef, error) {
	var ct *string
	err := s.pg.QueryRow(ctx, `SELECT ciphertext_ref FROM `+s.table()+` WHERE id=$1`, resourceID).Scan(&ct)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && (ct == nil || *ct == "")) {
		return "", core.ErrReceiptNotFound
	}
	if err != nil {
		return "", err
	}
	return core.CiphertextRef(*ct), nil
}

// Put upserts a receipt row. Ownership changes on transfer do not touch
// existing policies.
func (s *ReceiptStore) Put(ctx context.Context, id, ownerID, ownerKeyRef string, ct core.CiphertextRef) error {
	_, err := s.pg.Exec(ctx, `INSERT INTO `+s.table()+` (id, owner_id, owner_key_ref, ciphertext_ref)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET owner_id=EXCLUDED.owner_id, owner_key_ref=EXCLUDED.owner_key_ref,
			ciphertext_ref=EXCLUDED.ciphertext_ref, updated_at=NOW()`,
		id, ownerID, ownerKeyRef, string(ct))
	return err
}
