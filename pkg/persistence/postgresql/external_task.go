package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/persistence"
)

const externalTaskColumns = "id, task_id, funnel_id, subscriber_id, completed_at, metadata"

// SaveExternalTask records a task completion. Re-completing the same task
// for the same pair updates the existing record.
func (p *Persistence) SaveExternalTask(ctx context.Context, task *models.ExternalTask) error {
	metadata, err := json.Marshal(task.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal task metadata: %w", err)
	}

	if task.Metadata == nil {
		metadata = []byte("{}")
	}

	query := `
		INSERT INTO external_tasks (` + externalTaskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (funnel_id, subscriber_id, task_id)
		DO UPDATE SET
			completed_at = EXCLUDED.completed_at,
			metadata = EXCLUDED.metadata
	`

	_, err = p.db.ExecContext(ctx, query,
		task.ID,
		task.TaskID,
		task.FunnelID,
		task.SubscriberID,
		task.CompletedAt,
		metadata,
	)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to save external task", "task_id", task.TaskID, "error", err)

		return fmt.Errorf("failed to save external task: %w", err)
	}

	return nil
}

// ExternalTask retrieves one completion record.
func (p *Persistence) ExternalTask(ctx context.Context, funnelID, subscriberID, taskID string) (*models.ExternalTask, error) {
	query := `
		SELECT ` + externalTaskColumns + `
		FROM external_tasks
		WHERE funnel_id = $1 AND subscriber_id = $2 AND task_id = $3
	`

	row := p.db.QueryRowContext(ctx, query, funnelID, subscriberID, taskID)

	task, err := scanExternalTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExternalTaskNotFound
		}

		return nil, fmt.Errorf("failed to scan external task: %w", err)
	}

	return task, nil
}

// ExternalTasks retrieves all completion records for a (funnel, subscriber)
// pair; condition evaluation consults this set.
func (p *Persistence) ExternalTasks(ctx context.Context, funnelID, subscriberID string) ([]models.ExternalTask, error) {
	query := `
		SELECT ` + externalTaskColumns + `
		FROM external_tasks
		WHERE funnel_id = $1 AND subscriber_id = $2
		ORDER BY completed_at ASC
	`

	rows, err := p.db.QueryContext(ctx, query, funnelID, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query external tasks: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			p.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var tasks []models.ExternalTask

	for rows.Next() {
		task, err := scanExternalTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan external task: %w", err)
		}

		tasks = append(tasks, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating external task rows: %w", err)
	}

	return tasks, nil
}

func scanExternalTask(row rowScanner) (*models.ExternalTask, error) {
	task := &models.ExternalTask{}

	var metadata []byte

	err := row.Scan(
		&task.ID,
		&task.TaskID,
		&task.FunnelID,
		&task.SubscriberID,
		&task.CompletedAt,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(metadata, &task.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal task metadata: %w", err)
	}

	return task, nil
}
