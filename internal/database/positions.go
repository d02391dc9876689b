package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

const positionColumns = `
	p.id, p.portfolio_id, p.symbol, p.asset_type, p.quantity, p.purchase_price,
	p.purchase_date, p.notes, p.created_at, p.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*models.Position, error) {
	var p models.Position
	var assetType string
	var notes sql.NullString

	err := row.Scan(
		&p.ID, &p.PortfolioID, &p.Symbol, &assetType, &p.Quantity, &p.PurchasePrice,
		&p.PurchaseDate, &notes, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.AssetType = models.AssetType(assetType)
	if notes.Valid {
		p.Notes = notes.String
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreatePosition inserts a new position into the database
func (db *DB) CreatePosition(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions (
			portfolio_id, symbol, asset_type, quantity, purchase_price,
			purchase_date, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	now := time.Now()
	err := db.conn.QueryRowContext(ctx, query,
		p.PortfolioID, p.Symbol, string(p.AssetType), p.Quantity, p.PurchasePrice,
		p.PurchaseDate, nullString(p.Notes), now, now,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetPositionsByPortfolio returns every position of a portfolio in insertion order
func (db *DB) GetPositionsByPortfolio(ctx context.Context, portfolioID int) ([]*models.Position, error) {
	query := `SELECT` + positionColumns + `
		FROM positions p
		WHERE p.portfolio_id = $1
		ORDER BY p.id
	`
	rows, err := db.conn.QueryContext(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*models.Position, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate positions: %w", err)
	}
	return positions, nil
}

// GetPositionForUser retrieves a position only if it belongs to the user
func (db *DB) GetPositionForUser(ctx context.Context, userID string, positionID int) (*models.Position, error) {
	query := `SELECT` + positionColumns + `
		FROM positions p
		JOIN portfolios pf ON pf.id = p.portfolio_id
		WHERE p.id = $1 AND pf.user_id = $2
	`
	p, err := scanPosition(db.conn.QueryRowContext(ctx, query, positionID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %d: %w", positionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return p, nil
}

// UpdatePosition updates the mutable fields of one of the user's positions
func (db *DB) UpdatePosition(ctx context.Context, userID string, p *models.Position) error {
	query := `
		UPDATE positions SET
			quantity = $3, purchase_price = $4, purchase_date = $5, notes = $6, updated_at = $7
		WHERE id = $1
		  AND portfolio_id IN (SELECT id FROM portfolios WHERE user_id = $2)
		RETURNING portfolio_id, symbol, asset_type, created_at
	`
	p.UpdatedAt = time.Now()
	var assetType string
	err := db.conn.QueryRowContext(ctx, query,
		p.ID, userID, p.Quantity, p.PurchasePrice, p.PurchaseDate, nullString(p.Notes), p.UpdatedAt,
	).Scan(&p.PortfolioID, &p.Symbol, &assetType, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("position %d: %w", p.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}
	p.AssetType = models.AssetType(assetType)
	return nil
}

// DeletePosition removes one of the user's positions; its alerts go with it
func (db *DB) DeletePosition(ctx context.Context, userID string, id int) error {
	query := `
		DELETE FROM positions
		WHERE id = $1
		  AND portfolio_id IN (SELECT id FROM portfolios WHERE user_id = $2)
	`
	result, err := db.conn.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("position %d: %w", id, ErrNotFound)
	}
	return nil
}

// ReplacePortfolioPositions atomically reconciles a portfolio with a snapshot.
// Existing rows are matched to snapshot entries by symbol and asset type, in
// id order, and updated in place so their alerts stay attached. Unmatched
// snapshot entries are inserted; rows absent from the snapshot are deleted
// together with their alerts. It returns the ids of the deleted rows.
func (db *DB) ReplacePortfolioPositions(ctx context.Context, portfolioID int, positions []*models.Position) ([]int64, error) {
	var removed []int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := lockPortfolioPositions(ctx, tx, portfolioID)
		if err != nil {
			return err
		}

		updateQuery := `
			UPDATE positions SET
				quantity = $2, purchase_price = $3, purchase_date = $4, notes = $5, updated_at = $6
			WHERE id = $1
			RETURNING created_at
		`
		insertQuery := `
			INSERT INTO positions (
				portfolio_id, symbol, asset_type, quantity, purchase_price,
				purchase_date, notes, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`
		now := time.Now()
		for _, p := range positions {
			p.PortfolioID = portfolioID
			p.UpdatedAt = now
			key := positionKey(p.AssetType, p.Symbol)

			if ids := existing[key]; len(ids) > 0 {
				p.ID = int(ids[0])
				existing[key] = ids[1:]
				err := tx.QueryRowContext(ctx, updateQuery,
					p.ID, p.Quantity, p.PurchasePrice, p.PurchaseDate, nullString(p.Notes), now,
				).Scan(&p.CreatedAt)
				if err != nil {
					return fmt.Errorf("failed to update position %s: %w", p.Symbol, err)
				}
				continue
			}

			err := tx.QueryRowContext(ctx, insertQuery,
				portfolioID, p.Symbol, string(p.AssetType), p.Quantity, p.PurchasePrice,
				p.PurchaseDate, nullString(p.Notes), now, now,
			).Scan(&p.ID)
			if err != nil {
				return fmt.Errorf("failed to insert position %s: %w", p.Symbol, err)
			}
			p.CreatedAt = now
		}

		for _, ids := range existing {
			removed = append(removed, ids...)
		}
		if len(removed) > 0 {
			sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
			_, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE id = ANY($1)`, pq.Array(removed))
			if err != nil {
				return fmt.Errorf("failed to delete stale positions: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE portfolios SET updated_at = $2 WHERE id = $1`, portfolioID, now); err != nil {
			return fmt.Errorf("failed to touch portfolio: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// lockPortfolioPositions returns the ids of a portfolio's rows grouped by
// instrument, locking them for the rest of the transaction
func lockPortfolioPositions(ctx context.Context, tx *sql.Tx, portfolioID int) (map[string][]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, symbol, asset_type FROM positions
		WHERE portfolio_id = $1
		ORDER BY id
		FOR UPDATE
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock positions: %w", err)
	}
	defer rows.Close()

	existing := make(map[string][]int64)
	for rows.Next() {
		var id int64
		var symbol, assetType string
		if err := rows.Scan(&id, &symbol, &assetType); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		key := positionKey(models.AssetType(assetType), symbol)
		existing[key] = append(existing[key], id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate positions: %w", err)
	}
	return existing, nil
}

func positionKey(assetType models.AssetType, symbol string) string {
	return string(assetType) + ":" + symbol
}
