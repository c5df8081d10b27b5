package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/jackc/pgx/v5"
)

const achievementColumns = `id, title, description, icon, category, achievement_type, threshold_value, points_reward, rarity`

func scanAchievements(rows pgx.Rows) ([]domain.Achievement, error) {
	defer rows.Close()

	items := make([]domain.Achievement, 0)
	for rows.Next() {
		var a domain.Achievement
		err := rows.Scan(
			&a.ID,
			&a.Title,
			&a.Description,
			&a.Icon,
			&a.Category,
			&a.AchievementType,
			&a.ThresholdValue,
			&a.PointsReward,
			&a.Rarity,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning achievement: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating achievements: %w", err)
	}
	return items, nil
}

// SeedAchievements inserts missing catalog entries and returns how many
// were new
func (r *Repository) SeedAchievements(ctx context.Context, catalog []domain.Achievement) (int, error) {
	if len(catalog) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO achievements (id, title, description, icon, category, achievement_type,
			threshold_value, points_reward, rarity, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	for i, a := range catalog {
		batch.Queue(query,
			a.ID,
			a.Title,
			a.Description,
			a.Icon,
			a.Category,
			string(a.AchievementType),
			a.ThresholdValue,
			a.PointsReward,
			string(a.Rarity),
			i,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range catalog {
		result, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("seeding achievements: %w", err)
		}
		inserted += int(result.RowsAffected())
	}
	return inserted, nil
}

// ListAchievements returns the catalog in seed order
func (r *Repository) ListAchievements(ctx context.Context) ([]domain.Achievement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+achievementColumns+` FROM achievements ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("listing achievements: %w", err)
	}
	return scanAchievements(rows)
}

// ListLockedAchievements returns catalog entries the user has not
// unlocked, optionally limited to one type
func (r *Repository) ListLockedAchievements(ctx context.Context, userID string, achievementType domain.AchievementType) ([]domain.Achievement, error) {
	query := `
		SELECT ` + achievementColumns + `
		FROM achievements a
		WHERE ($2::text = '' OR a.achievement_type = $2)
		AND NOT EXISTS (
			SELECT 1 FROM user_achievements ua
			WHERE ua.user_id = $1 AND ua.achievement_id = a.id
		)
		ORDER BY a.sort_order, a.id
	`
	rows, err := r.pool.Query(ctx, query, userID, string(achievementType))
	if err != nil {
		return nil, fmt.Errorf("listing locked achievements: %w", err)
	}
	return scanAchievements(rows)
}

// InsertUserAchievement records an unlock. The unique (user_id,
// achievement_id) constraint surfaces a lost race as
// domain.ErrAchievementAlreadyUnlocked.
func (r *Repository) InsertUserAchievement(ctx context.Context, ua domain.UserAchievement) error {
	query := `
		INSERT INTO user_achievements (user_id, achievement_id, unlocked_at, progress_at_unlock)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query, ua.UserID, ua.AchievementID, ua.UnlockedAt, ua.ProgressAtUnlock)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAchievementAlreadyUnlocked
		}
		return fmt.Errorf("inserting user achievement: %w", err)
	}
	return nil
}

// ListUserAchievements returns a user's unlocks, newest first
func (r *Repository) ListUserAchievements(ctx context.Context, userID string) ([]domain.UserAchievement, error) {
	query := `
		SELECT user_id, achievement_id, unlocked_at, progress_at_unlock
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY unlocked_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user achievements: %w", err)
	}
	defer rows.Close()

	items := make([]domain.UserAchievement, 0)
	for rows.Next() {
		var ua domain.UserAchievement
		if err := rows.Scan(&ua.UserID, &ua.AchievementID, &ua.UnlockedAt, &ua.ProgressAtUnlock); err != nil {
			return nil, fmt.Errorf("scanning user achievement: %w", err)
		}
		items = append(items, ua)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user achievements: %w", err)
	}
	return items, nil
}

// UpsertLocationBonus inserts or replaces a bonus zone
func (r *Repository) UpsertLocationBonus(ctx context.Context, bonus domain.LocationBonus) error {
	query := `
		INSERT INTO location_bonuses (id, name, latitude, longitude, radius_meters, multiplier, is_active, valid_from, valid_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = $2, latitude = $3, longitude = $4, radius_meters = $5,
			multiplier = $6, is_active = $7, valid_from = $8, valid_until = $9
	`
	_, err := r.pool.Exec(ctx, query,
		bonus.ID,
		bonus.Name,
		bonus.Latitude,
		bonus.Longitude,
		bonus.RadiusMeters,
		bonus.Multiplier,
		bonus.Active,
		bonus.ValidFrom,
		bonus.ValidUntil,
	)
	if err != nil {
		return fmt.Errorf("upserting location bonus: %w", err)
	}
	return nil
}

// LocationBonusesAt returns active zones whose radius covers the point,
// using the haversine distance on a 6371 km sphere
func (r *Repository) LocationBonusesAt(ctx context.Context, lat, lng float64, at time.Time) ([]domain.LocationBonus, error) {
	query := `
		SELECT id, name, latitude, longitude, radius_meters, multiplier, is_active, valid_from, valid_until
		FROM location_bonuses
		WHERE is_active
		AND (valid_from IS NULL OR valid_from <= $3)
		AND (valid_until IS NULL OR valid_until >= $3)
		AND 2 * 6371000 * ASIN(LEAST(1, SQRT(
			POWER(SIN(RADIANS(latitude - $1) / 2), 2) +
			COS(RADIANS($1)) * COS(RADIANS(latitude)) * POWER(SIN(RADIANS(longitude - $2) / 2), 2)
		))) <= radius_meters
	`
	rows, err := r.pool.Query(ctx, query, lat, lng, at)
	if err != nil {
		return nil, fmt.Errorf("querying location bonuses: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LocationBonus, 0)
	for rows.Next() {
		var b domain.LocationBonus
		err := rows.Scan(
			&b.ID,
			&b.Name,
			&b.Latitude,
			&b.Longitude,
			&b.RadiusMeters,
			&b.Multiplier,
			&b.Active,
			&b.ValidFrom,
			&b.ValidUntil,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning location bonus: %w", err)
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating location bonuses: %w", err)
	}
	return items, nil
}
