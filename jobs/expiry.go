package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PaulFidika/receiptkit/core"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ExpiryReporter emits policy.expired for every policy whose expiry passed
// since the previous scan. Policies themselves are left untouched; expiry is
// always evaluated at read time.
type ExpiryReporter struct {
	policies core.PolicyStore
	events   core.AccessEventLogger
	log      logrus.FieldLogger
	now      func() time.Time
	timeout  time.Duration

	mu   sync.Mutex
	last time.Time
	// sent holds policies already reported inside a window that is being
	// retried, so a retry only re-emits what failed.
	sent map[string]struct{}
}

func NewExpiryReporter(policies core.PolicyStore, events core.AccessEventLogger, log logrus.FieldLogger) *ExpiryReporter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &ExpiryReporter{policies: policies, events: events, log: log, now: time.Now, timeout: time.Minute, sent: map[string]struct{}{}}
	r.last = r.now().UTC()
	return r
}

// Scan reports expiries in (last scan, now] and returns how many events it
// emitted. When an event cannot be recorded the window restarts just before
// the earliest failed expiry, so the next scan retries it.
func (r *ExpiryReporter) Scan(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	to := r.now().UTC()
	expired, err := r.policies.ExpiringBetween(ctx, r.last, to)
	if err != nil {
		return 0, err
	}
	var (
		n         int
		failed    int
		firstErr  error
		retryFrom time.Time
	)
	for _, p := range expired {
		if p.Revoked {
			continue
		}
		if _, done := r.sent[p.ID]; done {
			continue
		}
		ev := core.AccessEvent{
			Type:       core.EventPolicyExpired,
			PolicyID:   p.ID,
			ResourceID: p.ResourceID,
			ActorID:    p.OwnerID,
			GranteeID:  p.GranteeID,
			At:         *p.ExpiresAt,
		}
		if err := r.events.LogAccessEvent(ctx, ev); err != nil {
			r.log.WithError(err).WithField("policy_id", p.ID).Warn("expiry event not recorded")
			if failed == 0 || p.ExpiresAt.Before(retryFrom) {
				retryFrom = *p.ExpiresAt
			}
			if firstErr == nil {
				firstErr = err
			}
			failed++
			continue
		}
		r.sent[p.ID] = struct{}{}
		n++
	}

	if failed > 0 {
		r.last = retryFrom.Add(-time.Nanosecond)
		return n, fmt.Errorf("jobs: %d expiry events not recorded: %w", failed, firstErr)
	}
	r.last = to
	clear(r.sent)
	return n, nil
}

// Run implements cron.Job.
func (r *ExpiryReporter) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	n, err := r.Scan(ctx)
	if err != nil {
		r.log.WithError(err).Error("expiry scan failed")
		return
	}
	if n > 0 {
		r.log.WithField("count", n).Info("reported expired policies")
	}
}

// NewScheduler returns a cron scheduler that logs through log, recovers from
// panics and never overlaps runs of the same job.
func NewScheduler(log logrus.FieldLogger) *cron.Cron {
	l := cron.PrintfLogger(log)
	return cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)))
}

// Schedule registers r on c with a standard five-field spec or a descriptor
// such as "@every 1m".
func (r *ExpiryReporter) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddJob(spec, r)
}
