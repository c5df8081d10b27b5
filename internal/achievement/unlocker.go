// Package achievement unlocks catalog achievements at most once per user.
package achievement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/ledger"
	"github.com/cleanquest/progression/internal/store"
)

// maxPasses bounds the re-check loop triggered by reward points
const maxPasses = 8

// Unlocker evaluates thresholds and records unlocks. The store's unique
// (user, achievement) constraint arbitrates concurrent unlocks: the loser
// gets domain.ErrAchievementAlreadyUnlocked and treats it as a no-op.
type Unlocker struct {
	achievements store.Achievements
	users        store.Users
	ledger       *ledger.Ledger
	logger       *slog.Logger
	now          func() time.Time
}

// NewUnlocker creates a new achievement unlocker
func NewUnlocker(achievements store.Achievements, users store.Users, l *ledger.Ledger, logger *slog.Logger) *Unlocker {
	return &Unlocker{
		achievements: achievements,
		users:        users,
		ledger:       l,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock replaces the time source
func (u *Unlocker) SetClock(now func() time.Time) {
	u.now = now
}

// Seed inserts any catalog entries missing from the store
func (u *Unlocker) Seed(ctx context.Context, catalog []domain.Achievement) error {
	n, err := u.achievements.SeedAchievements(ctx, catalog)
	if err != nil {
		return fmt.Errorf("seeding achievements: %w", err)
	}
	if n > 0 {
		u.logger.Info("seeded achievement catalog", "inserted", n)
	}
	return nil
}

// CheckAndUnlock unlocks every locked achievement whose threshold the
// user has reached. An empty trigger checks all achievement types.
// Only achievements unlocked by this call are returned.
func (u *Unlocker) CheckAndUnlock(ctx context.Context, userID string, trigger domain.AchievementType) ([]domain.UnlockedAchievement, error) {
	user, err := u.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user for achievements: %w", err)
	}

	unlocked := make([]domain.UnlockedAchievement, 0)
	scope := trigger
	for pass := 0; pass < maxPasses; pass++ {
		got, err := u.pass(ctx, user, scope)
		unlocked = append(unlocked, got...)
		if err != nil {
			return unlocked, err
		}
		if len(got) == 0 {
			break
		}

		// rewards raise points, which can cross a points threshold
		user, err = u.users.GetUser(ctx, userID)
		if err != nil {
			return unlocked, fmt.Errorf("reloading user for achievements: %w", err)
		}
		scope = domain.AchievementPoints
	}
	return unlocked, nil
}

func (u *Unlocker) pass(ctx context.Context, user *domain.User, scope domain.AchievementType) ([]domain.UnlockedAchievement, error) {
	locked, err := u.achievements.ListLockedAchievements(ctx, user.ID, scope)
	if err != nil {
		return nil, fmt.Errorf("listing locked achievements: %w", err)
	}

	var unlocked []domain.UnlockedAchievement
	for _, a := range locked {
		progress := user.StatFor(a.AchievementType)
		if progress < a.ThresholdValue {
			continue
		}

		at := u.now().UTC()
		err := u.achievements.InsertUserAchievement(ctx, domain.UserAchievement{
			UserID:           user.ID,
			AchievementID:    a.ID,
			UnlockedAt:       at,
			ProgressAtUnlock: progress,
		})
		if errors.Is(err, domain.ErrAchievementAlreadyUnlocked) {
			u.logger.Debug("achievement already unlocked by a concurrent request",
				"user_id", user.ID,
				"achievement_id", a.ID,
			)
			continue
		}
		if err != nil {
			u.logger.Error("failed to unlock achievement",
				"user_id", user.ID,
				"achievement_id", a.ID,
				"error", err,
			)
			continue
		}

		result := domain.UnlockedAchievement{Achievement: a, UnlockedAt: at}
		if a.PointsReward > 0 {
			receipt, err := u.ledger.Record(ctx, ledger.Entry{
				UserID:      user.ID,
				ActionType:  domain.ActionAchievement,
				Points:      a.PointsReward,
				Breakdown:   domain.Breakdown{BasePoints: a.PointsReward, TotalPoints: a.PointsReward},
				Description: fmt.Sprintf("Achievement unlocked: %s", a.Title),
			})
			if err != nil {
				// the unlock row exists, so this reward is never retried
				u.logger.Error("achievement unlocked without its reward",
					"user_id", user.ID,
					"achievement_id", a.ID,
					"reward", a.PointsReward,
					"error", err,
				)
				unlocked = append(unlocked, result)
				return unlocked, fmt.Errorf("awarding %s reward: %w", a.ID, err)
			}
			result.TransactionID = receipt.TransactionID
		}

		u.logger.Info("achievement unlocked",
			"user_id", user.ID,
			"achievement_id", a.ID,
			"title", a.Title,
			"reward", a.PointsReward,
		)
		unlocked = append(unlocked, result)
	}
	return unlocked, nil
}

// Progress lists the catalog annotated with the user's progress
func (u *Unlocker) Progress(ctx context.Context, userID string) ([]domain.AchievementProgress, error) {
	user, err := u.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	catalog, err := u.achievements.ListAchievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing achievements: %w", err)
	}
	owned, err := u.achievements.ListUserAchievements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user achievements: %w", err)
	}

	byID := make(map[string]domain.UserAchievement, len(owned))
	for _, ua := range owned {
		byID[ua.AchievementID] = ua
	}

	items := make([]domain.AchievementProgress, 0, len(catalog))
	for _, a := range catalog {
		p := domain.AchievementProgress{
			Achievement: a,
			MaxProgress: a.ThresholdValue,
			Progress:    min(user.StatFor(a.AchievementType), a.ThresholdValue),
		}
		if ua, ok := byID[a.ID]; ok {
			at := ua.UnlockedAt
			p.Unlocked = true
			p.UnlockedAt = &at
			p.Progress = a.ThresholdValue
		}
		items = append(items, p)
	}
	return items, nil
}
