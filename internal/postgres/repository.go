package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cleanquest/progression/internal/config"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE for a unique constraint conflict
const uniqueViolation = "23505"

// Repository provides PostgreSQL-based data access for every store port
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			points BIGINT NOT NULL DEFAULT 0,
			weekly_points BIGINT NOT NULL DEFAULT 0,
			monthly_points BIGINT NOT NULL DEFAULT 0,
			total_cleanups INT NOT NULL DEFAULT 0,
			total_reports INT NOT NULL DEFAULT 0,
			streak_days INT NOT NULL DEFAULT 0,
			combo_streak INT NOT NULL DEFAULT 0,
			max_combo_streak INT NOT NULL DEFAULT 0,
			points_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			rank_name VARCHAR(64) NOT NULL DEFAULT 'Eco Novice',
			level INT NOT NULL DEFAULT 1,
			last_activity_date DATE,
			streak_updated_on DATE,
			visited_locations JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS point_transactions (
			id UUID PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			action_type VARCHAR(20) NOT NULL,
			points_awarded BIGINT NOT NULL,
			base_points BIGINT NOT NULL DEFAULT 0,
			multipliers JSONB NOT NULL DEFAULT '{}'::jsonb,
			bonuses JSONB NOT NULL DEFAULT '{}'::jsonb,
			report_id VARCHAR(64),
			cleanup_id VARCHAR(64),
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS achievements (
			id VARCHAR(64) PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			icon VARCHAR(64) NOT NULL DEFAULT '',
			category VARCHAR(64) NOT NULL DEFAULT '',
			achievement_type VARCHAR(20) NOT NULL,
			threshold_value BIGINT NOT NULL,
			points_reward BIGINT NOT NULL DEFAULT 0,
			rarity VARCHAR(20) NOT NULL DEFAULT 'common',
			sort_order INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS user_achievements (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			achievement_id VARCHAR(64) NOT NULL REFERENCES achievements(id) ON DELETE CASCADE,
			unlocked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			progress_at_unlock BIGINT NOT NULL DEFAULT 0,
			UNIQUE(user_id, achievement_id)
		)`,
		`CREATE TABLE IF NOT EXISTS location_bonuses (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			radius_meters DOUBLE PRECISION NOT NULL,
			multiplier DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			valid_from TIMESTAMPTZ,
			valid_until TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboard_cache (
			user_id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			total_points BIGINT NOT NULL,
			weekly_points BIGINT NOT NULL,
			monthly_points BIGINT NOT NULL,
			level INT NOT NULL,
			rank_name VARCHAR(64) NOT NULL,
			total_cleanups INT NOT NULL,
			total_reports INT NOT NULL,
			streak_days INT NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboard_snapshots (
			id UUID PRIMARY KEY,
			period_window VARCHAR(16) NOT NULL,
			period_key VARCHAR(16) NOT NULL,
			entries JSONB NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			UNIQUE(period_window, period_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_point_transactions_user ON point_transactions(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_point_transactions_created ON point_transactions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_users_points ON users(points DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_users_last_activity ON users(last_activity_date)`,
		`CREATE INDEX IF NOT EXISTS idx_user_achievements_user ON user_achievements(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_location_bonuses_active ON location_bonuses(is_active)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// isUniqueViolation reports a unique constraint conflict
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// limitArg maps a non-positive limit to NULL, which LIMIT treats as ALL
func limitArg(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}

// nullString maps an empty string to NULL
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
