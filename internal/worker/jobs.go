package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleanquest/progression/internal/config"
	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/store"
	"github.com/google/uuid"
)

// Job names
const (
	JobWeeklyReset        = "weekly_reset"
	JobMonthlyReset       = "monthly_reset"
	JobLeaderboardRebuild = "leaderboard_rebuild"
	JobStreakUpdate       = "streak_update"
	JobTransactionPrune   = "transaction_prune"
)

// Rebuilder rebuilds the leaderboard read model
type Rebuilder interface {
	Rebuild(ctx context.Context) (int, error)
}

// Jobs holds the scheduled maintenance operations
type Jobs struct {
	leaderboards store.Leaderboards
	transactions store.Transactions
	rebuilder    Rebuilder
	config       *config.SchedulerConfig
	location     *time.Location
	logger       *slog.Logger
	now          func() time.Time
}

// NewJobs creates the maintenance jobs. Period boundaries and "today"
// are evaluated in loc.
func NewJobs(
	leaderboards store.Leaderboards,
	transactions store.Transactions,
	rebuilder Rebuilder,
	cfg *config.SchedulerConfig,
	loc *time.Location,
	logger *slog.Logger,
) *Jobs {
	if loc == nil {
		loc = time.UTC
	}
	return &Jobs{
		leaderboards: leaderboards,
		transactions: transactions,
		rebuilder:    rebuilder,
		config:       cfg,
		location:     loc,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock replaces the time source
func (j *Jobs) SetClock(now func() time.Time) {
	j.now = now
}

// Register adds every job to s with its configured cadence
func (j *Jobs) Register(s *Scheduler) error {
	jobs := []Job{
		{Name: JobWeeklyReset, Spec: j.config.WeeklyReset, Run: j.WeeklyReset},
		{Name: JobMonthlyReset, Spec: j.config.MonthlyReset, Run: j.MonthlyReset},
		{Name: JobLeaderboardRebuild, Spec: j.config.LeaderboardRebuild, Run: j.RebuildLeaderboard},
		{Name: JobStreakUpdate, Spec: j.config.StreakUpdate, Run: j.UpdateStreaks},
		{Name: JobTransactionPrune, Spec: j.config.TransactionPrune, Run: j.PruneTransactions},
	}
	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	s.RunOnStart(JobLeaderboardRebuild, j.config.StartupRebuildDelay)
	return nil
}

// PeriodKey names the period containing t: the Monday starting its week
// for weekly, the month for monthly
func PeriodKey(w domain.Window, t time.Time) string {
	switch w {
	case domain.WindowWeekly:
		offset := (int(t.Weekday()) + 6) % 7
		return t.AddDate(0, 0, -offset).Format("2006-01-02")
	case domain.WindowMonthly:
		return t.Format("2006-01")
	default:
		return ""
	}
}

// WeeklyReset archives the weekly top and zeroes weekly points
func (j *Jobs) WeeklyReset(ctx context.Context) error {
	return j.resetWindow(ctx, domain.WindowWeekly)
}

// MonthlyReset archives the monthly top and zeroes monthly points
func (j *Jobs) MonthlyReset(ctx context.Context) error {
	return j.resetWindow(ctx, domain.WindowMonthly)
}

// resetWindow is keyed by the period the reset opens. A second run in
// the same period finds the snapshot already present and does nothing.
func (j *Jobs) resetWindow(ctx context.Context, w domain.Window) error {
	now := j.now().In(j.location)
	key := PeriodKey(w, now)

	top, err := j.leaderboards.TopUsers(ctx, w, j.config.SnapshotSize)
	if err != nil {
		return fmt.Errorf("loading %s top users: %w", w, err)
	}

	saved, err := j.leaderboards.SavePeriodSnapshot(ctx, domain.PeriodSnapshot{
		ID:         uuid.New().String(),
		Window:     w,
		PeriodKey:  key,
		Entries:    domain.Rank(top, w),
		CapturedAt: now.UTC(),
	})
	if err != nil {
		return fmt.Errorf("saving %s snapshot: %w", w, err)
	}
	if !saved {
		j.logger.Info("period already reset", "window", w, "period", key)
		return nil
	}

	n, err := j.leaderboards.ResetWindowPoints(ctx, w)
	if err != nil {
		return fmt.Errorf("resetting %s points: %w", w, err)
	}
	j.logger.Info("period reset",
		"window", w,
		"period", key,
		"snapshot_entries", len(top),
		"users_reset", n,
	)
	return nil
}

// RebuildLeaderboard replaces the leaderboard cache
func (j *Jobs) RebuildLeaderboard(ctx context.Context) error {
	_, err := j.rebuilder.Rebuild(ctx)
	return err
}

// UpdateStreaks breaks streaks of users idle since before yesterday and
// extends streaks of users with a transaction today
func (j *Jobs) UpdateStreaks(ctx context.Context) error {
	today := domain.DateOf(j.now(), j.location)

	reset, err := j.leaderboards.ResetInactiveStreaks(ctx, today)
	if err != nil {
		return fmt.Errorf("resetting inactive streaks: %w", err)
	}
	extended, err := j.leaderboards.IncrementActiveStreaks(ctx, today)
	if err != nil {
		return fmt.Errorf("incrementing active streaks: %w", err)
	}

	j.logger.Info("streaks updated",
		"date", today.Format("2006-01-02"),
		"reset", reset,
		"extended", extended,
	)
	return nil
}

// PruneTransactions deletes ledger rows past the retention window
func (j *Jobs) PruneTransactions(ctx context.Context) error {
	cutoff := j.now().Add(-j.config.TransactionRetention)
	n, err := j.transactions.DeleteTransactionsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pruning transactions: %w", err)
	}
	j.logger.Info("transactions pruned", "cutoff", cutoff.UTC(), "deleted", n)
	return nil
}
