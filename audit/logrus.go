// Package audit provides sinks for core.AccessEvent: structured logs, an
// in-memory buffer, a PostgreSQL table, and a fan-out over several of them.
package audit

import (
	"context"
	"errors"

	"github.com/PaulFidika/receiptkit/core"
	"github.com/sirupsen/logrus"
)

// LogrusLogger writes each event as one structured log line.
type LogrusLogger struct {
	log logrus.FieldLogger
}

func NewLogrusLogger(log logrus.FieldLogger) *LogrusLogger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogrusLogger{log: log}
}

func (l *LogrusLogger) LogAccessEvent(_ context.Context, ev core.AccessEvent) error {
	fields := logrus.Fields{
		"event":       string(ev.Type),
		"resource_id": ev.ResourceID,
		"at":          ev.At,
	}
	if ev.PolicyID != "" {
		fields["policy_id"] = ev.PolicyID
	}
	if ev.ActorID != "" {
		fields["actor_id"] = ev.ActorID
	}
	if ev.GranteeID != "" {
		fields["grantee_id"] = ev.GranteeID
	}
	entry := l.log.WithFields(fields)
	if ev.Reason != "" {
		entry.WithField("reason", ev.Reason).Warn("access event")
		return nil
	}
	entry.Info("access event")
	return nil
}

// Tee delivers each event to every sink and joins their errors.
type Tee []core.AccessEventLogger

func (t Tee) LogAccessEvent(ctx context.Context, ev core.AccessEvent) error {
	var errs []error
	for _, s := range t {
		if s == nil {
			continue
		}
		if err := s.LogAccessEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
