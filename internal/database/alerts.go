package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trogers1052/portfolio-tracker/internal/models"
)

const alertColumns = `
	id, position_id, user_id, symbol, asset_type, direction, threshold_price,
	active, created_at, triggered_at`

func scanAlert(row rowScanner) (*models.PriceAlert, error) {
	var a models.PriceAlert
	var assetType, direction string
	var triggeredAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.PositionID, &a.UserID, &a.Symbol, &assetType, &direction, &a.ThresholdPrice,
		&a.Active, &a.CreatedAt, &triggeredAt,
	)
	if err != nil {
		return nil, err
	}
	a.AssetType = models.AssetType(assetType)
	a.Direction = models.AlertDirection(direction)
	if triggeredAt.Valid {
		t := triggeredAt.Time
		a.TriggeredAt = &t
	}
	return &a, nil
}

func (db *DB) queryAlerts(ctx context.Context, query string, args ...any) ([]*models.PriceAlert, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*models.PriceAlert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

// CreateAlert inserts a new armed alert
func (db *DB) CreateAlert(ctx context.Context, a *models.PriceAlert) error {
	query := `
		INSERT INTO price_alerts (
			position_id, user_id, symbol, asset_type, direction, threshold_price, active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	now := time.Now()
	err := db.conn.QueryRowContext(ctx, query,
		a.PositionID, a.UserID, a.Symbol, string(a.AssetType), string(a.Direction),
		a.ThresholdPrice, a.Active, now,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	a.CreatedAt = now
	return nil
}

// ListAlertsByUser returns all of a user's alerts, newest first
func (db *DB) ListAlertsByUser(ctx context.Context, userID string) ([]*models.PriceAlert, error) {
	query := `SELECT` + alertColumns + `
		FROM price_alerts
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`
	return db.queryAlerts(ctx, query, userID)
}

// DeleteAlert removes one of the user's alerts
func (db *DB) DeleteAlert(ctx context.Context, userID string, id int) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM price_alerts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetArmedAlerts returns the active alerts for an instrument in creation
// order. An empty assetType matches every asset type of the symbol.
func (db *DB) GetArmedAlerts(ctx context.Context, symbol string, assetType models.AssetType) ([]*models.PriceAlert, error) {
	query := `SELECT` + alertColumns + `
		FROM price_alerts
		WHERE symbol = $1 AND ($2 = '' OR asset_type = $2) AND active = true
		ORDER BY id
	`
	return db.queryAlerts(ctx, query, symbol, string(assetType))
}

// GetArmedSymbols returns each instrument that has at least one active alert
func (db *DB) GetArmedSymbols(ctx context.Context) ([]models.SymbolRef, error) {
	query := `
		SELECT DISTINCT symbol, asset_type
		FROM price_alerts
		WHERE active = true
		ORDER BY symbol, asset_type
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query armed symbols: %w", err)
	}
	defer rows.Close()

	refs := make([]models.SymbolRef, 0)
	for rows.Next() {
		var ref models.SymbolRef
		var assetType string
		if err := rows.Scan(&ref.Symbol, &assetType); err != nil {
			return nil, fmt.Errorf("failed to scan armed symbol: %w", err)
		}
		ref.AssetType = models.AssetType(assetType)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate armed symbols: %w", err)
	}
	return refs, nil
}

// DeactivateAlert disarms an alert if it is still active. Only one caller can
// win the transition; the others see false.
func (db *DB) DeactivateAlert(ctx context.Context, id int, triggeredAt time.Time) (bool, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE price_alerts SET active = false, triggered_at = $2 WHERE id = $1 AND active = true`,
		id, triggeredAt)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read deactivation result: %w", err)
	}
	return rowsAffected == 1, nil
}
