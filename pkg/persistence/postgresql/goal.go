package postgresql

import (
	"context"
	"fmt"

	"github.com/marketloop/funneld/pkg/models"
)

// SaveGoalConversion records one goal conversion.
func (p *Persistence) SaveGoalConversion(ctx context.Context, conversion *models.GoalConversion) error {
	query := `
		INSERT INTO goal_conversions (id, funnel_id, subscriber_id, goal_name, goal_kind, value, converted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := p.db.ExecContext(ctx, query,
		conversion.ID,
		conversion.FunnelID,
		conversion.SubscriberID,
		conversion.GoalName,
		conversion.GoalKind,
		conversion.Value,
		conversion.ConvertedAt,
	)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to save goal conversion", "conversion_id", conversion.ID, "error", err)

		return fmt.Errorf("failed to save goal conversion: %w", err)
	}

	return nil
}

// GoalConversionsByFunnel retrieves all conversions attributed to a funnel.
func (p *Persistence) GoalConversionsByFunnel(ctx context.Context, funnelID string) ([]*models.GoalConversion, error) {
	query := `
		SELECT id, funnel_id, subscriber_id, goal_name, goal_kind, value, converted_at
		FROM goal_conversions
		WHERE funnel_id = $1
		ORDER BY converted_at ASC
	`

	rows, err := p.db.QueryContext(ctx, query, funnelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query goal conversions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			p.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	var conversions []*models.GoalConversion

	for rows.Next() {
		conversion := &models.GoalConversion{}

		err := rows.Scan(
			&conversion.ID,
			&conversion.FunnelID,
			&conversion.SubscriberID,
			&conversion.GoalName,
			&conversion.GoalKind,
			&conversion.Value,
			&conversion.ConvertedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal conversion: %w", err)
		}

		conversions = append(conversions, conversion)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating goal conversion rows: %w", err)
	}

	return conversions, nil
}
