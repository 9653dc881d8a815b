package repository

import (
	"context"
	"fmt"

	"github.com/creditgate/creditgate/internal/model"
)

// ListPredictions returns a user's most recent predictions, newest first.
func (r *Repository) ListPredictions(ctx context.Context, username string, limit int) ([]*model.Prediction, error) {
	query := `
		SELECT id, model_type, created_at, requester_username
		FROM predictions
		WHERE requester_username = $1
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, username, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	predictions := make([]*model.Prediction, 0)
	for rows.Next() {
		var p model.Prediction
		var modelType string
		if err := rows.Scan(&p.ID, &modelType, &p.CreatedAt, &p.RequesterUsername); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		p.ModelType = model.ModelType(modelType)
		predictions = append(predictions, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}

	return predictions, nil
}

// CountPredictions returns how many predictions a user has been billed for.
func (r *Repository) CountPredictions(ctx context.Context, username string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM predictions WHERE requester_username = $1`,
		username,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}
	return count, nil
}
