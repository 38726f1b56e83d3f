// Package migrations embeds the PostgreSQL schema for receiptkit: receipts,
// policies and the access event log.
package migrations

import (
	"context"
	"embed"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed *.sql
var migrationFS embed.FS

// FS exposes the embedded SQL for external runners.
var FS = migrationFS

// Migrations is a bun/migrate registry for this module.
var Migrations = migrate.NewMigrations()

func init() {
	if err := Migrations.Discover(migrationFS); err != nil {
		panic(fmt.Sprintf("migrations: discover: %v", err))
	}
}

// Migrate creates the bun bookkeeping tables if needed and applies every
// pending migration.
func Migrate(ctx context.Context, db *bun.DB, log logrus.FieldLogger) error {
	m := migrate.NewMigrator(db, Migrations, migrate.WithTableName("receiptkit_migrations"), migrate.WithLocksTableName("receiptkit_migration_locks"))
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("migrations: init: %w", err)
	}
	if err := m.Lock(ctx); err != nil {
		return fmt.Errorf("migrations: lock: %w", err)
	}
	defer func() { _ = m.Unlock(ctx) }()

	group, err := m.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrations: apply: %w", err)
	}
	if log != nil {
		if group.IsZero() {
			log.Info("database schema up to date")
		} else {
			log.WithField("group", group.String()).Info("applied database migrations")
		}
	}
	return nil
}
