package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cleanquest/progression/internal/domain"
)

// InsertTransaction appends a ledger row
func (r *Repository) InsertTransaction(ctx context.Context, tx domain.PointTransaction) error {
	multipliers, err := json.Marshal(tx.Multipliers)
	if err != nil {
		return fmt.Errorf("marshaling multipliers: %w", err)
	}
	bonuses, err := json.Marshal(tx.Bonuses)
	if err != nil {
		return fmt.Errorf("marshaling bonuses: %w", err)
	}

	query := `
		INSERT INTO point_transactions (id, user_id, action_type, points_awarded, base_points,
			multipliers, bonuses, report_id, cleanup_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.pool.Exec(ctx, query,
		tx.ID,
		tx.UserID,
		string(tx.ActionType),
		tx.PointsAwarded,
		tx.BasePoints,
		multipliers,
		bonuses,
		nullString(tx.Related.ReportID),
		nullString(tx.Related.CleanupID),
		tx.Description,
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

// CountTransactionsSince counts a user's rows created at or after since
func (r *Repository) CountTransactionsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM point_transactions WHERE user_id = $1 AND created_at >= $2`
	var count int
	if err := r.pool.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting transactions: %w", err)
	}
	return count, nil
}

// ListTransactions returns a user's rows newest first
func (r *Repository) ListTransactions(ctx context.Context, userID string, limit int, actionType domain.ActionType) ([]domain.PointTransaction, error) {
	query := `
		SELECT id, user_id, action_type, points_awarded, base_points, multipliers, bonuses,
			report_id, cleanup_id, description, created_at
		FROM point_transactions
		WHERE user_id = $1 AND ($2::text = '' OR action_type = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, userID, string(actionType), limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	items := make([]domain.PointTransaction, 0)
	for rows.Next() {
		var tx domain.PointTransaction
		var multipliers, bonuses []byte
		var reportID, cleanupID *string
		err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.ActionType,
			&tx.PointsAwarded,
			&tx.BasePoints,
			&multipliers,
			&bonuses,
			&reportID,
			&cleanupID,
			&tx.Description,
			&tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		if err := json.Unmarshal(multipliers, &tx.Multipliers); err != nil {
			return nil, fmt.Errorf("decoding multipliers: %w", err)
		}
		if err := json.Unmarshal(bonuses, &tx.Bonuses); err != nil {
			return nil, fmt.Errorf("decoding bonuses: %w", err)
		}
		if reportID != nil {
			tx.Related.ReportID = *reportID
		}
		if cleanupID != nil {
			tx.Related.CleanupID = *cleanupID
		}
		items = append(items, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transactions: %w", err)
	}
	return items, nil
}

// DeleteTransactionsBefore prunes rows older than cutoff
func (r *Repository) DeleteTransactionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM point_transactions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting transactions: %w", err)
	}
	return result.RowsAffected(), nil
}
