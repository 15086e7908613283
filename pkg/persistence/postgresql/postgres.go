// Package postgresql provides PostgreSQL-backed persistence for the funnel
// engine.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/marketloop/funneld/pkg/persistence"
	"github.com/marketloop/funneld/pkg/persistence/sqlbase"

	_ "github.com/lib/pq"
)

// Persistence implements persistence.Persistence on PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence connects to the database and runs migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run funnel migrations: %w", err)
	}

	logger.InfoContext(ctx, "Funnel PostgreSQL persistence initialized successfully")

	return &Persistence{
		db:     database,
		logger: logger.With("component", "funnel_postgres_persistence"),
	}, nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Database health check failed", "error", err)

		return fmt.Errorf("database health check failed: %w", err)
	}

	var count int

	err = p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM funnels").Scan(&count)
	if err != nil {
		p.logger.ErrorContext(ctx, "Database table query failed", "error", err)

		return fmt.Errorf("database table query failed: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to close database connection", "error", err)

			return fmt.Errorf("failed to close database connection: %w", err)
		}

		p.logger.InfoContext(ctx, "Database connection closed successfully")
	}

	return nil
}

// migrations returns the versioned migration scripts for the funnel engine
// tables.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE funnels (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				slug VARCHAR(255) NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(32) NOT NULL,
				start_step_id VARCHAR(255) NOT NULL,
				steps JSONB NOT NULL,
				allow_reentry BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_funnels_status ON funnels(status);
		`,
		2: `
			CREATE TABLE enrollments (
				id VARCHAR(255) PRIMARY KEY,
				funnel_id VARCHAR(255) NOT NULL REFERENCES funnels(id),
				subscriber_id VARCHAR(255) NOT NULL,
				current_step_id VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				next_action_at TIMESTAMP WITH TIME ZONE,
				entered_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				steps_completed INTEGER NOT NULL DEFAULT 0,
				history JSONB NOT NULL DEFAULT '[]',
				claimed_until TIMESTAMP WITH TIME ZONE
			);

			-- At most one non-terminal enrollment per (subscriber, funnel) pair
			CREATE UNIQUE INDEX idx_enrollments_active_pair
				ON enrollments(funnel_id, subscriber_id)
				WHERE status != 'completed';

			CREATE INDEX idx_enrollments_subscriber ON enrollments(subscriber_id);

			-- Index for the sweep query
			CREATE INDEX idx_enrollments_due
				ON enrollments(status, next_action_at)
				WHERE status IN ('waiting', 'waiting_condition');
		`,
		3: `
			CREATE TABLE goal_conversions (
				id VARCHAR(255) PRIMARY KEY,
				funnel_id VARCHAR(255) NOT NULL,
				subscriber_id VARCHAR(255) NOT NULL,
				goal_name VARCHAR(255) NOT NULL,
				goal_kind VARCHAR(255) NOT NULL,
				value DOUBLE PRECISION NOT NULL DEFAULT 0,
				converted_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_goal_conversions_funnel ON goal_conversions(funnel_id);

			CREATE TABLE external_tasks (
				id VARCHAR(255) PRIMARY KEY,
				task_id VARCHAR(255) NOT NULL,
				funnel_id VARCHAR(255) NOT NULL,
				subscriber_id VARCHAR(255) NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				metadata JSONB NOT NULL DEFAULT '{}',
				UNIQUE (funnel_id, subscriber_id, task_id)
			);

			CREATE INDEX idx_external_tasks_lookup ON external_tasks(funnel_id, subscriber_id);
		`,
	}
}
