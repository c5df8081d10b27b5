package points

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleanquest/progression/internal/store"
)

// ComboTracker detects clustered actions inside a rolling window.
// The count is taken before the current action is recorded, so with a
// threshold of 2 the third action inside the window is the first combo.
type ComboTracker struct {
	transactions store.Transactions
	users        store.Users
	window       time.Duration
	threshold    int
	bonus        float64
	logger       *slog.Logger
	now          func() time.Time
}

// NewComboTracker creates a new combo tracker
func NewComboTracker(transactions store.Transactions, users store.Users, opts Options, logger *slog.Logger) *ComboTracker {
	return &ComboTracker{
		transactions: transactions,
		users:        users,
		window:       opts.ComboWindow,
		threshold:    opts.ComboThreshold,
		bonus:        opts.ComboBonus,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock replaces the time source
func (t *ComboTracker) SetClock(now func() time.Time) {
	t.now = now
}

// Bonus returns the combo multiplier increment for userID and bumps the
// user's combo streak when it applies
func (t *ComboTracker) Bonus(ctx context.Context, userID string) (float64, error) {
	since := t.now().Add(-t.window)
	count, err := t.transactions.CountTransactionsSince(ctx, userID, since)
	if err != nil {
		return 0, fmt.Errorf("counting recent transactions: %w", err)
	}
	if count < t.threshold {
		return 0, nil
	}

	state, err := t.users.IncrementComboStreak(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("incrementing combo streak: %w", err)
	}
	t.logger.Debug("combo bonus applied",
		"user_id", userID,
		"recent_actions", count,
		"combo_streak", state.ComboStreak,
		"max_combo_streak", state.MaxComboStreak,
	)
	return t.bonus, nil
}
