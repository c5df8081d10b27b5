package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/store"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, username, points, weekly_points, monthly_points, total_cleanups, total_reports,
	streak_days, combo_streak, max_combo_streak, points_multiplier, rank_name, level,
	last_activity_date, visited_locations, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var visited []byte
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Points,
		&u.WeeklyPoints,
		&u.MonthlyPoints,
		&u.TotalCleanups,
		&u.TotalReports,
		&u.StreakDays,
		&u.ComboStreak,
		&u.MaxComboStreak,
		&u.PointsMultiplier,
		&u.Rank,
		&u.Level,
		&u.LastActivityDate,
		&visited,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	if len(visited) > 0 {
		if err := json.Unmarshal(visited, &u.VisitedLocations); err != nil {
			return nil, fmt.Errorf("decoding visited locations: %w", err)
		}
	}
	return &u, nil
}

// EnsureUser inserts the user with default progression if absent
func (r *Repository) EnsureUser(ctx context.Context, userID, username string, at time.Time) (*domain.User, error) {
	query := `
		INSERT INTO users (id, username, rank_name, level, points_multiplier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		userID,
		username,
		domain.DefaultRank,
		domain.DefaultLevel,
		domain.DefaultMultiplier,
		at,
	)
	if err != nil {
		return nil, fmt.Errorf("ensuring user: %w", err)
	}
	return r.GetUser(ctx, userID)
}

// GetUser retrieves a user aggregate
func (r *Repository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// ApplyDelta adds points and counters in one statement relative to the
// stored values
func (r *Repository) ApplyDelta(ctx context.Context, userID string, delta domain.AggregateDelta) (*domain.User, error) {
	var activity interface{}
	if !delta.ActivityDate.IsZero() {
		activity = delta.ActivityDate
	}

	query := `
		UPDATE users SET
			points = points + $2,
			weekly_points = weekly_points + $2,
			monthly_points = monthly_points + $2,
			total_reports = total_reports + $3,
			total_cleanups = total_cleanups + $4,
			last_activity_date = COALESCE($5::date, last_activity_date),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, query,
		userID,
		delta.Points,
		delta.Reports,
		delta.Cleanups,
		activity,
	))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("applying delta: %w", err)
	}
	return u, nil
}

// SetRank writes the tier only while points are still inside its range
func (r *Repository) SetRank(ctx context.Context, userID string, update store.RankUpdate) (bool, error) {
	query := `
		UPDATE users SET rank_name = $2, level = $3, points_multiplier = $4, updated_at = NOW()
		WHERE id = $1 AND points >= $5 AND ($6::bigint IS NULL OR points < $6)
	`
	var max interface{}
	if update.MaxPoints != nil {
		max = *update.MaxPoints
	}
	result, err := r.pool.Exec(ctx, query,
		userID,
		update.Rank,
		update.Level,
		update.Multiplier,
		update.MinPoints,
		max,
	)
	if err != nil {
		return false, fmt.Errorf("setting rank: %w", err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking user existence: %w", err)
	}
	if !exists {
		return false, domain.ErrUserNotFound
	}
	return false, nil
}

// IncrementComboStreak bumps the combo streak and its high-water mark
func (r *Repository) IncrementComboStreak(ctx context.Context, userID string) (domain.ComboState, error) {
	query := `
		UPDATE users SET
			combo_streak = combo_streak + 1,
			max_combo_streak = GREATEST(max_combo_streak, combo_streak + 1),
			updated_at = NOW()
		WHERE id = $1
		RETURNING combo_streak, max_combo_streak
	`
	var state domain.ComboState
	err := r.pool.QueryRow(ctx, query, userID).Scan(&state.ComboStreak, &state.MaxComboStreak)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return state, domain.ErrUserNotFound
		}
		return state, fmt.Errorf("incrementing combo streak: %w", err)
	}
	return state, nil
}

// RecordVisitedLocation appends loc, keeping only the newest max entries
func (r *Repository) RecordVisitedLocation(ctx context.Context, userID string, loc domain.Location, max int) error {
	data, err := json.Marshal([]domain.Location{loc})
	if err != nil {
		return fmt.Errorf("encoding location: %w", err)
	}

	query := `
		UPDATE users SET visited_locations = (
			SELECT COALESCE(jsonb_agg(kept.elem ORDER BY kept.ord), '[]'::jsonb)
			FROM (
				SELECT elem, ord
				FROM jsonb_array_elements(users.visited_locations || $2::jsonb) WITH ORDINALITY AS t(elem, ord)
				ORDER BY ord DESC
				LIMIT $3
			) kept
		)
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, userID, data, limitArg(max))
	if err != nil {
		return fmt.Errorf("recording visited location: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
