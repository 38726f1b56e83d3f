package audit

import (
	"context"
	"time"

	"github.com/PaulFidika/receiptkit/core"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

type accessEventRow struct {
	bun.BaseModel `bun:"table:receiptkit.access_events,alias:ae"`

	ID         int64     `bun:"id,pk,autoincrement"`
	Type       string    `bun:"type,notnull"`
	PolicyID   *string   `bun:"policy_id"`
	ResourceID string    `bun:"resource_id,notnull"`
	ActorID    *string   `bun:"actor_id"`
	GranteeID  *string   `bun:"grantee_id"`
	Reason     *string   `bun:"reason"`
	OccurredAt time.Time `bun:"occurred_at,notnull"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func rowOf(ev core.AccessEvent) *accessEventRow {
	return &accessEventRow{
		Type:       string(ev.Type),
		PolicyID:   nullable(ev.PolicyID),
		ResourceID: ev.ResourceID,
		ActorID:    nullable(ev.ActorID),
		GranteeID:  nullable(ev.GranteeID),
		Reason:     nullable(ev.Reason),
		OccurredAt: ev.At,
	}
}

func (r *accessEventRow) event() core.AccessEvent {
	return core.AccessEvent{
		Type:       core.EventType(r.Type),
		PolicyID:   str(r.PolicyID),
		ResourceID: r.ResourceID,
		ActorID:    str(r.ActorID),
		GranteeID:  str(r.GranteeID),
		Reason:     str(r.Reason),
		At:         r.OccurredAt,
	}
}

// BunSink appends events to receiptkit.access_events.
type BunSink struct {
	db *bun.DB
}

func NewBunSink(db *bun.DB) *BunSink { return &BunSink{db: db} }

// OpenBunDB wraps a pgx pool in a bun.DB using the postgres dialect.
func OpenBunDB(pool *pgxpool.Pool) *bun.DB {
	return bun.NewDB(stdlib.OpenDBFromPool(pool), pgdialect.New())
}

func (s *BunSink) LogAccessEvent(ctx context.Context, ev core.AccessEvent) error {
	_, err := s.db.NewInsert().Model(rowOf(ev)).Exec(ctx)
	return err
}

// ListByResource returns the newest events for a resource, newest first.
func (s *BunSink) ListByResource(ctx context.Context, resourceID string, limit int) ([]core.AccessEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []accessEventRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("resource_id = ?", resourceID).
		Order("occurred_at DESC", "id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.AccessEvent, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].event())
	}
	return out, nil
}
