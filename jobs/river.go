// Package jobs holds the background work around the access controller:
// asynchronous audit delivery on River and the cron-driven expiry reporter.
// Neither ever changes an authorization decision.
package jobs

import (
	"context"
	"fmt"

	"github.com/PaulFidika/receiptkit/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"github.com/sirupsen/logrus"
)

// QueueAudit is the River queue access events are delivered on.
const QueueAudit = "receiptkit_audit"

// AccessEventArgs carries one access event to the audit sink.
type AccessEventArgs struct {
	Event core.AccessEvent `json:"event"`
}

func (AccessEventArgs) Kind() string { return "receiptkit.access_event" }

func (AccessEventArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueAudit, MaxAttempts: 10}
}

// AccessEventWorker hands queued events to the durable sink.
type AccessEventWorker struct {
	river.WorkerDefaults[AccessEventArgs]
	Sink core.AccessEventLogger
}

func (w *AccessEventWorker) Work(ctx context.Context, job *river.Job[AccessEventArgs]) error {
	return w.Sink.LogAccessEvent(ctx, job.Args.Event)
}

type jobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverLogger is a core.AccessEventLogger that only enqueues; the worker
// does the write. Request latency then never depends on the sink.
type RiverLogger struct {
	client jobInserter
}

func NewRiverLogger(client *river.Client[pgx.Tx]) *RiverLogger {
	return &RiverLogger{client: client}
}

func (l *RiverLogger) LogAccessEvent(ctx context.Context, ev core.AccessEvent) error {
	_, err := l.client.Insert(ctx, AccessEventArgs{Event: ev}, nil)
	if err != nil {
		return fmt.Errorf("jobs: enqueue access event: %w", err)
	}
	return nil
}

// NewRiverClient builds a client that works the audit queue and writes to sink.
func NewRiverClient(pool *pgxpool.Pool, sink core.AccessEventLogger, workers int) (*river.Client[pgx.Tx], error) {
	if workers <= 0 {
		workers = 4
	}
	w := river.NewWorkers()
	if err := river.AddWorkerSafely(w, &AccessEventWorker{Sink: sink}); err != nil {
		return nil, err
	}
	return river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueAudit: {MaxWorkers: workers},
		},
		Workers: w,
	})
}

// MigrateRiver applies River's own schema migrations.
func MigrateRiver(ctx context.Context, pool *pgxpool.Pool, log logrus.FieldLogger) error {
	m, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("jobs: river migrator: %w", err)
	}
	res, err := m.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("jobs: river migrate: %w", err)
	}
	if log != nil {
		log.WithField("versions", len(res.Versions)).Info("river schema migrated")
	}
	return nil
}
