package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleanquest/progression/internal/config"
	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/store"
)

// Mirror is a read-optimised copy of the rebuilt leaderboard cache
type Mirror interface {
	Publish(ctx context.Context, entries []domain.LeaderboardCacheEntry, at time.Time) error
	Top(ctx context.Context, window domain.Window, limit int) ([]domain.LeaderboardEntry, error)
	Position(ctx context.Context, window domain.Window, userID string) (*domain.Standing, error)
}

// LeaderboardService serves the rebuilt leaderboard read model
type LeaderboardService struct {
	store     store.Leaderboards
	mirror    Mirror
	notifier  Notifier
	config    *config.LeaderboardConfig
	cacheSize int
	logger    *slog.Logger
	now       func() time.Time
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(
	st store.Leaderboards,
	cfg *config.LeaderboardConfig,
	cacheSize int,
	logger *slog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		store:     st,
		config:    cfg,
		cacheSize: cacheSize,
		logger:    logger,
		now:       time.Now,
	}
}

// SetMirror enables the Redis mirror
func (s *LeaderboardService) SetMirror(m Mirror) {
	s.mirror = m
}

// SetNotifier sets the live event sink
func (s *LeaderboardService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetClock replaces the time source
func (s *LeaderboardService) SetClock(now func() time.Time) {
	s.now = now
}

// Rebuild replaces the cache wholesale from the user table and publishes
// it to the mirror. A mirror failure is logged; readers fall back to the
// store.
func (s *LeaderboardService) Rebuild(ctx context.Context) (int, error) {
	at := s.now().UTC()
	entries, err := s.store.RebuildLeaderboardCache(ctx, s.cacheSize, at)
	if err != nil {
		return 0, fmt.Errorf("rebuilding leaderboard cache: %w", err)
	}

	if s.mirror != nil {
		if err := s.mirror.Publish(ctx, entries, at); err != nil {
			s.logger.Warn("failed to publish leaderboard mirror", "error", err)
		}
	}
	if s.notifier != nil {
		s.notifier.LeaderboardRebuilt(len(entries), at)
	}

	s.logger.Info("leaderboard cache rebuilt", "entries", len(entries))
	return len(entries), nil
}

// GetLeaderboard returns the top of a window
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, window domain.Window, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}

	if s.mirror != nil {
		entries, err := s.mirror.Top(ctx, window, limit)
		if err == nil && len(entries) > 0 {
			return entries, nil
		}
		if err != nil {
			s.logger.Warn("leaderboard mirror read failed, using store", "window", window, "error", err)
		}
	}

	entries, err := s.store.ListLeaderboardCache(ctx, window, limit)
	if err != nil {
		return nil, fmt.Errorf("listing leaderboard cache: %w", err)
	}
	return entries, nil
}

// GetStanding returns a user's position in a window
func (s *LeaderboardService) GetStanding(ctx context.Context, window domain.Window, userID string) (*domain.Standing, error) {
	if s.mirror != nil {
		standing, err := s.mirror.Position(ctx, window, userID)
		if err == nil {
			return standing, nil
		}
		if !domain.IsNotFoundError(err) {
			s.logger.Warn("leaderboard mirror rank failed, using store", "window", window, "error", err)
		}
	}

	entries, err := s.store.ListLeaderboardCache(ctx, window, 0)
	if err != nil {
		return nil, fmt.Errorf("listing leaderboard cache: %w", err)
	}
	for _, e := range entries {
		if e.UserID == userID {
			return &domain.Standing{
				Window:   window,
				UserID:   userID,
				Position: e.Position,
				Score:    e.Score(window),
				Total:    len(entries),
			}, nil
		}
	}
	return nil, domain.ErrNotRanked
}

// ListSnapshots returns archived period tops, newest first
func (s *LeaderboardService) ListSnapshots(ctx context.Context, window domain.Window, limit int) ([]domain.PeriodSnapshot, error) {
	if window == domain.WindowTotal {
		return nil, fmt.Errorf("total window has no periods: %w", domain.ErrInvalidWindow)
	}
	if limit <= 0 {
		limit = 10
	}
	snaps, err := s.store.ListSnapshots(ctx, window, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return snaps, nil
}
