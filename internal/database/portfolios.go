package database

import (
	"context"
	"fmt"
	"time"

	"github.com/trogers1052/portfolio-tracker/internal/models"
)

// GetOrCreatePortfolio returns the user's portfolio, creating it on first access
func (db *DB) GetOrCreatePortfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	query := `
		INSERT INTO portfolios (user_id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, created_at, updated_at
	`
	var p models.Portfolio
	err := db.conn.QueryRowContext(ctx, query, userID, time.Now()).Scan(
		&p.ID, &p.UserID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	return &p, nil
}
