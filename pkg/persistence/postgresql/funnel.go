package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/persistence"
)

const funnelColumns = "id, name, slug, description, status, start_step_id, steps, allow_reentry, created_at, updated_at"

// SaveFunnel inserts or updates a funnel definition.
func (p *Persistence) SaveFunnel(ctx context.Context, funnel *models.Funnel) error {
	steps, err := json.Marshal(funnel.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal funnel steps: %w", err)
	}

	now := time.Now().UTC()
	if funnel.CreatedAt.IsZero() {
		funnel.CreatedAt = now
	}

	funnel.UpdatedAt = now

	query := `
		INSERT INTO funnels (` + funnelColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			slug = EXCLUDED.slug,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			start_step_id = EXCLUDED.start_step_id,
			steps = EXCLUDED.steps,
			allow_reentry = EXCLUDED.allow_reentry,
			updated_at = EXCLUDED.updated_at
	`

	_, err = p.db.ExecContext(ctx, query,
		funnel.ID,
		funnel.Name,
		funnel.Slug,
		funnel.Description,
		funnel.Status,
		funnel.StartStepID,
		steps,
		funnel.AllowReentry,
		funnel.CreatedAt,
		funnel.UpdatedAt,
	)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to save funnel", "funnel_id", funnel.ID, "error", err)

		return &persistence.FunnelError{Op: "SaveFunnel", FunnelID: funnel.ID, Err: err}
	}

	p.logger.DebugContext(ctx, "Funnel saved successfully", "funnel_id", funnel.ID)

	return nil
}

// FunnelByID retrieves a funnel by its ID.
func (p *Persistence) FunnelByID(ctx context.Context, id string) (*models.Funnel, error) {
	row := p.db.QueryRowContext(ctx, "SELECT "+funnelColumns+" FROM funnels WHERE id = $1", id)

	funnel, err := scanFunnel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.FunnelError{Op: "FunnelByID", FunnelID: id, Err: persistence.ErrFunnelNotFound}
		}

		return nil, &persistence.FunnelError{Op: "FunnelByID", FunnelID: id, Err: err}
	}

	return funnel, nil
}

// FunnelBySlug retrieves a funnel by its slug.
func (p *Persistence) FunnelBySlug(ctx context.Context, slug string) (*models.Funnel, error) {
	row := p.db.QueryRowContext(ctx, "SELECT "+funnelColumns+" FROM funnels WHERE slug = $1", slug)

	funnel, err := scanFunnel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.FunnelError{Op: "FunnelBySlug", FunnelID: slug, Err: persistence.ErrFunnelNotFound}
		}

		return nil, &persistence.FunnelError{Op: "FunnelBySlug", FunnelID: slug, Err: err}
	}

	return funnel, nil
}

// Funnels retrieves all funnel definitions.
func (p *Persistence) Funnels(ctx context.Context) ([]*models.Funnel, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT "+funnelColumns+" FROM funnels ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query funnels: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			p.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var funnels []*models.Funnel

	for rows.Next() {
		funnel, err := scanFunnel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan funnel: %w", err)
		}

		funnels = append(funnels, funnel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funnel rows: %w", err)
	}

	return funnels, nil
}

// DeleteFunnel removes a funnel definition.
func (p *Persistence) DeleteFunnel(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, "DELETE FROM funnels WHERE id = $1", id)
	if err != nil {
		return &persistence.FunnelError{Op: "DeleteFunnel", FunnelID: id, Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &persistence.FunnelError{Op: "DeleteFunnel", FunnelID: id, Err: persistence.ErrFunnelNotFound}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFunnel(row rowScanner) (*models.Funnel, error) {
	funnel := &models.Funnel{}

	var steps []byte

	err := row.Scan(
		&funnel.ID,
		&funnel.Name,
		&funnel.Slug,
		&funnel.Description,
		&funnel.Status,
		&funnel.StartStepID,
		&steps,
		&funnel.AllowReentry,
		&funnel.CreatedAt,
		&funnel.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(steps, &funnel.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal funnel steps: %w", err)
	}

	return funnel, nil
}
