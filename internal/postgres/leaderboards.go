package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/jackc/pgx/v5"
)

// userOrder returns the score column and ORDER BY clause of a window over
// the users table. User IDs compare bytewise to match domain.Less.
func userOrder(w domain.Window) (string, string, error) {
	switch w {
	case domain.WindowTotal:
		return "points", `points DESC, total_cleanups DESC, id COLLATE "C" ASC`, nil
	case domain.WindowWeekly:
		return "weekly_points", `weekly_points DESC, points DESC, id COLLATE "C" ASC`, nil
	case domain.WindowMonthly:
		return "monthly_points", `monthly_points DESC, points DESC, id COLLATE "C" ASC`, nil
	}
	return "", "", domain.ErrInvalidWindow
}

// cacheOrder is userOrder for the leaderboard_cache columns
func cacheOrder(w domain.Window) (string, error) {
	switch w {
	case domain.WindowTotal:
		return `total_points DESC, total_cleanups DESC, user_id COLLATE "C" ASC`, nil
	case domain.WindowWeekly:
		return `weekly_points DESC, total_points DESC, user_id COLLATE "C" ASC`, nil
	case domain.WindowMonthly:
		return `monthly_points DESC, total_points DESC, user_id COLLATE "C" ASC`, nil
	}
	return "", domain.ErrInvalidWindow
}

const cacheColumns = `user_id, username, total_points, weekly_points, monthly_points, level, rank_name,
	total_cleanups, total_reports, streak_days, last_updated`

func scanCacheEntries(rows pgx.Rows) ([]domain.LeaderboardCacheEntry, error) {
	defer rows.Close()

	items := make([]domain.LeaderboardCacheEntry, 0)
	for rows.Next() {
		var e domain.LeaderboardCacheEntry
		err := rows.Scan(
			&e.UserID,
			&e.Username,
			&e.TotalPoints,
			&e.WeeklyPoints,
			&e.MonthlyPoints,
			&e.Level,
			&e.RankName,
			&e.TotalCleanups,
			&e.TotalReports,
			&e.StreakDays,
			&e.LastUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning leaderboard entry: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating leaderboard entries: %w", err)
	}
	return items, nil
}

// TopUsers reads the live top of a window straight from the users table
func (r *Repository) TopUsers(ctx context.Context, window domain.Window, limit int) ([]domain.LeaderboardCacheEntry, error) {
	score, order, err := userOrder(window)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, username, points, weekly_points, monthly_points, level, rank_name,
			total_cleanups, total_reports, streak_days, NOW()
		FROM users
		WHERE %s > 0
		ORDER BY %s
		LIMIT $1
	`, score, order)

	rows, err := r.pool.Query(ctx, query, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("querying top users: %w", err)
	}
	return scanCacheEntries(rows)
}

// ResetWindowPoints zeroes the weekly or monthly column
func (r *Repository) ResetWindowPoints(ctx context.Context, window domain.Window) (int64, error) {
	var query string
	switch window {
	case domain.WindowWeekly:
		query = `UPDATE users SET weekly_points = 0, updated_at = NOW() WHERE weekly_points <> 0`
	case domain.WindowMonthly:
		query = `UPDATE users SET monthly_points = 0, updated_at = NOW() WHERE monthly_points <> 0`
	default:
		return 0, domain.ErrInvalidWindow
	}

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("resetting %s points: %w", window, err)
	}
	return result.RowsAffected(), nil
}

// SavePeriodSnapshot stores the snapshot unless the period already has one
func (r *Repository) SavePeriodSnapshot(ctx context.Context, snap domain.PeriodSnapshot) (bool, error) {
	entries, err := json.Marshal(snap.Entries)
	if err != nil {
		return false, fmt.Errorf("marshaling snapshot entries: %w", err)
	}

	query := `
		INSERT INTO leaderboard_snapshots (id, period_window, period_key, entries, captured_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (period_window, period_key) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, snap.ID, string(snap.Window), snap.PeriodKey, entries, snap.CapturedAt)
	if err != nil {
		return false, fmt.Errorf("saving snapshot: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ListSnapshots returns a window's archived periods, newest first
func (r *Repository) ListSnapshots(ctx context.Context, window domain.Window, limit int) ([]domain.PeriodSnapshot, error) {
	query := `
		SELECT id, period_window, period_key, entries, captured_at
		FROM leaderboard_snapshots
		WHERE period_window = $1
		ORDER BY period_key DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, string(window), limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	items := make([]domain.PeriodSnapshot, 0)
	for rows.Next() {
		var snap domain.PeriodSnapshot
		var entries []byte
		if err := rows.Scan(&snap.ID, &snap.Window, &snap.PeriodKey, &entries, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		if err := json.Unmarshal(entries, &snap.Entries); err != nil {
			return nil, fmt.Errorf("decoding snapshot entries: %w", err)
		}
		items = append(items, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return items, nil
}

// ResetInactiveStreaks breaks the streaks of users idle before yesterday
func (r *Repository) ResetInactiveStreaks(ctx context.Context, today time.Time) (int64, error) {
	query := `
		UPDATE users SET streak_days = 0, combo_streak = 0, updated_at = NOW()
		WHERE streak_days > 0 AND last_activity_date < $1::date - 1
	`
	result, err := r.pool.Exec(ctx, query, today)
	if err != nil {
		return 0, fmt.Errorf("resetting inactive streaks: %w", err)
	}
	return result.RowsAffected(), nil
}

// IncrementActiveStreaks extends streaks of users with a transaction on
// today, at most once per day
func (r *Repository) IncrementActiveStreaks(ctx context.Context, today time.Time) (int64, error) {
	query := `
		UPDATE users u SET streak_days = streak_days + 1, streak_updated_on = $1::date, updated_at = NOW()
		WHERE u.last_activity_date = $1::date
		AND (u.streak_updated_on IS NULL OR u.streak_updated_on < $1::date)
		AND EXISTS (
			SELECT 1 FROM point_transactions t
			WHERE t.user_id = u.id AND t.created_at >= $2 AND t.created_at < $3
		)
	`
	result, err := r.pool.Exec(ctx, query, today, today, today.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("incrementing active streaks: %w", err)
	}
	return result.RowsAffected(), nil
}

// rebuildLockKey is the advisory lock held for the length of a cache rebuild
const rebuildLockKey int64 = 0x6c62_6361_6368_65

// RebuildLeaderboardCache replaces the cache with the top users by points
// in one transaction. Concurrent rebuilds queue on an advisory lock so each
// DELETE sees the rows the previous rebuild committed.
func (r *Repository) RebuildLeaderboardCache(ctx context.Context, limit int, at time.Time) ([]domain.LeaderboardCacheEntry, error) {
	var entries []domain.LeaderboardCacheEntry
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, rebuildLockKey); err != nil {
			return fmt.Errorf("locking leaderboard cache: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM leaderboard_cache`); err != nil {
			return fmt.Errorf("clearing leaderboard cache: %w", err)
		}

		query := `
			INSERT INTO leaderboard_cache (` + cacheColumns + `)
			SELECT id, username, points, weekly_points, monthly_points, level, rank_name,
				total_cleanups, total_reports, streak_days, $2
			FROM users
			WHERE points > 0
			ORDER BY points DESC, total_cleanups DESC, id COLLATE "C" ASC
			LIMIT $1
			RETURNING ` + cacheColumns
		rows, err := tx.Query(ctx, query, limitArg(limit), at)
		if err != nil {
			return fmt.Errorf("filling leaderboard cache: %w", err)
		}
		entries, err = scanCacheEntries(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rebuilding leaderboard cache: %w", err)
	}
	return domainRankTotal(entries), nil
}

// domainRankTotal restores total order, which RETURNING does not guarantee
func domainRankTotal(entries []domain.LeaderboardCacheEntry) []domain.LeaderboardCacheEntry {
	ranked := domain.Rank(entries, domain.WindowTotal)
	out := make([]domain.LeaderboardCacheEntry, len(ranked))
	for i, e := range ranked {
		out[i] = e.LeaderboardCacheEntry
	}
	return out
}

// ListLeaderboardCache reads the cache ordered for a window
func (r *Repository) ListLeaderboardCache(ctx context.Context, window domain.Window, limit int) ([]domain.LeaderboardEntry, error) {
	order, err := cacheOrder(window)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM leaderboard_cache ORDER BY %s LIMIT $1`, cacheColumns, order)

	rows, err := r.pool.Query(ctx, query, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("listing leaderboard cache: %w", err)
	}
	cached, err := scanCacheEntries(rows)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.LeaderboardEntry, len(cached))
	for i, e := range cached {
		entries[i] = domain.LeaderboardEntry{Position: i + 1, LeaderboardCacheEntry: e}
	}
	return entries, nil
}
