package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/db"
	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/logger"
)

// sqliteIndexes mirror the partial indexes of the Postgres migrations that
// AutoMigrate cannot express.
var sqliteIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_notification_tasks_queued_object
	   ON notification_tasks (kind, provider_object_id) WHERE status = 'queued'`,
	`CREATE INDEX IF NOT EXISTS ix_notification_tasks_claim
	   ON notification_tasks (status, available_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_events_event_aggregate
	   ON outbox_events (event_type, aggregate_type, aggregate_id)`,
	`CREATE INDEX IF NOT EXISTS ix_orders_status_created_at
	   ON orders (status, created_at)`,
}

// SQLiteSchema builds the schema on a sqlite connection. Goose migrations are
// Postgres-only, so local sqlite runs and tests use this instead.
func SQLiteSchema(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&models.Order{},
		&models.NotificationTask{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	); err != nil {
		return fmt.Errorf("sqlite automigrate: %w", err)
	}
	for _, stmt := range sqliteIndexes {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("sqlite index: %w", err)
		}
	}
	return nil
}

// MaybeRunDev migrates automatically in dev when the AutoMigrate flag is set.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dialect": client.Dialect()})

	if client.Dialect() == db.DialectSQLite {
		logg.Info(ctx, "building sqlite schema (dev auto-run)")
		return SQLiteSchema(client.DB())
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	logg.Info(ctx, "running goose migrations (dev auto-run)")
	if err := Run(ctx, sqlDB, Embedded(), "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}
	logg.Info(ctx, "goose migrations completed")
	return nil
}
