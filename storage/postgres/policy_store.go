// Package pgstore implements the policy and receipt stores on PostgreSQL.
// Tables live in a configurable schema ("receiptkit" by default) and are
// created by migrations/postgres.
package pgstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PaulFidika/receiptkit/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is used when NewPolicyStore or NewReceiptStore is given an
// empty schema.
const DefaultSchema = "receiptkit"

// ErrDuplicatePolicy is returned when a policy id already exists.
var ErrDuplicatePolicy = errors.New("duplicate policy id")

const policyColumns = `id, resource_id, owner_id, grantee_id, capsule_ref, created_at, expires_at, revoked, revoked_at, seq`

// PolicyStore persists policies in <schema>.policies. seq is a BIGSERIAL so
// concurrent creates get strictly increasing tie-breakers.
type PolicyStore struct {
	pg     *pgxpool.Pool
	schema string
}

func NewPolicyStore(pg *pgxpool.Pool, schema string) *PolicyStore {
	return &PolicyStore{pg: pg, schema: schemaOrDefault(schema)}
}

func schemaOrDefault(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSchema
	}
	return s
}

func (s *PolicyStore) table() string { return s.schema + ".policies" }

func (s *PolicyStore) Create(ctx context.Context, p *core.Policy) error {
	err := s.pg.QueryRow(ctx, `INSERT INTO `+s.table()+`
		(id, resource_id, owner_id, grantee_id, capsule_ref, created_at, expires_at, revoked, revoked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING seq`,
		p.ID, p.ResourceID, p.OwnerID, p.GranteeID, string(p.CapsuleRef),
		p.CreatedAt, p.ExpiresAt, p.Revoked, p.RevokedAt,
	).Scan(&p.Seq)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicatePolicy
	}
	return err
}

func (s *PolicyStore) Get(ctx context.Context, id string) (*core.Policy, error) {
	row := s.pg.QueryRow(ctx, `SELECT `+policyColumns+` FROM `+s.table()+` WHERE id=$1`, id)
	return scanPolicy(row)
}

func (s *PolicyStore) Latest(ctx context.Context, resourceID, granteeID string) (*core.Policy, error) {
	row := s.pg.QueryRow(ctx, `SELECT `+policyColumns+` FROM `+s.table()+`
		WHERE resource_id=$1 AND grantee_id=$2
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`, resourceID, granteeID)
	return scanPolicy(row)
}

// Revoke flips revoked in a single conditional UPDATE. A zero row count means
// either the policy is missing or it was already revoked; a follow-up lookup
// tells the two apart.
func (s *PolicyStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pg.Exec(ctx, `UPDATE `+s.table()+` SET revoked=TRUE, revoked_at=$2 WHERE id=$1 AND revoked=FALSE`, id, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.pg.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM `+s.table()+` WHERE id=$1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, core.ErrPolicyNotFound
	}
	return false, nil
}

func (s *PolicyStore) ListByOwner(ctx context.Context, ownerID, resourceID string) ([]*core.Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM ` + s.table() + ` WHERE owner_id=$1`
	args := []any{ownerID}
	if resourceID != "" {
		q += ` AND resource_id=$2`
		args = append(args, resourceID)
	}
	q += ` ORDER BY created_at ASC, seq ASC`
	rows, err := s.pg.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectPolicies(rows)
}

func (s *PolicyStore) ExpiringBetween(ctx context.Context, from, to time.Time) ([]*core.Policy, error) {
	rows, err := s.pg.Query(ctx, `SELECT `+policyColumns+` FROM `+s.table()+`
		WHERE expires_at > $1 AND expires_at <= $2
		ORDER BY created_at ASC, seq ASC`, from, to)
	if err != nil {
		return nil, err
	}
	return collectPolicies(rows)
}

func scanPolicy(row pgx.Row) (*core.Policy, error) {
	var p core.Policy
	var capsule string
	err := row.Scan(&p.ID, &p.ResourceID, &p.OwnerID, &p.GranteeID, &capsule,
		&p.CreatedAt, &p.ExpiresAt, &p.Revoked, &p.RevokedAt, &p.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CapsuleRef = core.CapsuleRef(capsule)
	return &p, nil
}

func collectPolicies(rows pgx.Rows) ([]*core.Policy, error) {
	defer rows.Close()
	var out []*core.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
