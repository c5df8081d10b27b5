package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cleanquest/progression/internal/achievement"
	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/ledger"
	"github.com/cleanquest/progression/internal/points"
	"github.com/cleanquest/progression/internal/rank"
	"github.com/cleanquest/progression/internal/store"
)

// Transaction history limits
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Notifier receives progression events for live delivery
type Notifier interface {
	PointsAwarded(userID string, result domain.AwardResult)
	AchievementUnlocked(userID string, unlocked domain.UnlockedAchievement)
	LeaderboardRebuilt(entries int, at time.Time)
}

// Engine runs the award pipeline: score, record, recompute rank, unlock
type Engine struct {
	users        store.Users
	transactions store.Transactions
	calculator   *points.Calculator
	ledger       *ledger.Ledger
	unlocker     *achievement.Unlocker
	progression  *rank.Progression
	notifier     Notifier
	logger       *slog.Logger
	now          func() time.Time
}

// NewEngine creates a new progression engine
func NewEngine(
	users store.Users,
	transactions store.Transactions,
	calculator *points.Calculator,
	l *ledger.Ledger,
	unlocker *achievement.Unlocker,
	progression *rank.Progression,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		users:        users,
		transactions: transactions,
		calculator:   calculator,
		ledger:       l,
		unlocker:     unlocker,
		progression:  progression,
		logger:       logger,
		now:          time.Now,
	}
}

// SetNotifier sets the live event sink
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// SetClock replaces the time source for registration timestamps
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SeedCatalog inserts the default achievement catalog
func (e *Engine) SeedCatalog(ctx context.Context) error {
	return e.unlocker.Seed(ctx, domain.DefaultCatalog())
}

// normalizeUserID trims the caller-supplied ID so the stores only ever see
// the canonical key
func normalizeUserID(userID string) string {
	return strings.TrimSpace(userID)
}

// RegisterUser creates the aggregate with first-tier defaults if absent
func (e *Engine) RegisterUser(ctx context.Context, userID, username string) (*domain.User, error) {
	userID = normalizeUserID(userID)
	if userID == "" {
		return nil, fmt.Errorf("registering user: %w", domain.ErrInvalidRequest)
	}
	if username == "" {
		username = userID
	}

	if _, err := e.users.EnsureUser(ctx, userID, username, e.now().UTC()); err != nil {
		return nil, fmt.Errorf("registering user: %w", err)
	}
	user, err := e.progression.Recompute(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("initialising rank: %w", err)
	}
	return user, nil
}

// AwardReportPoints scores and records a trash report
func (e *Engine) AwardReportPoints(ctx context.Context, userID string, rc domain.ReportContext) (*domain.AwardResult, error) {
	userID = normalizeUserID(userID)
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	award := e.calculator.Report(ctx, user, rc)
	receipt, err := e.ledger.Record(ctx, ledger.Entry{
		UserID:      userID,
		ActionType:  domain.ActionReport,
		Points:      award.Points,
		Breakdown:   award.Breakdown,
		Related:     domain.RelatedIDs{ReportID: rc.ReportID},
		Reports:     1,
		Description: fmt.Sprintf("Trash report submitted - %d points awarded", award.Points),
	})
	if err != nil {
		return nil, fmt.Errorf("recording report award: %w", err)
	}

	return e.complete(ctx, userID, award, receipt), nil
}

// AwardCleanupPoints scores and records a verified cleanup
func (e *Engine) AwardCleanupPoints(ctx context.Context, userID string, cc domain.CleanupContext) (*domain.AwardResult, error) {
	userID = normalizeUserID(userID)
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	award := e.calculator.Cleanup(ctx, user, cc)
	receipt, err := e.ledger.Record(ctx, ledger.Entry{
		UserID:      userID,
		ActionType:  domain.ActionCleanup,
		Points:      award.Points,
		Breakdown:   award.Breakdown,
		Related:     domain.RelatedIDs{ReportID: cc.ReportID, CleanupID: cc.CleanupID},
		Cleanups:    1,
		Description: fmt.Sprintf("Trash cleanup verified - %d points awarded", award.Points),
	})
	if err != nil {
		return nil, fmt.Errorf("recording cleanup award: %w", err)
	}

	return e.complete(ctx, userID, award, receipt), nil
}

// complete runs the non-fatal tail of an award: unlocks and notification
func (e *Engine) complete(ctx context.Context, userID string, award domain.Award, receipt ledger.Receipt) *domain.AwardResult {
	unlocked, err := e.unlocker.CheckAndUnlock(ctx, userID, "")
	if err != nil {
		e.logger.Error("achievement check failed",
			"user_id", userID,
			"transaction_id", receipt.TransactionID,
			"error", err,
		)
	}

	result := &domain.AwardResult{
		TransactionID:   receipt.TransactionID,
		PointsAwarded:   award.Points,
		Breakdown:       award.Breakdown,
		NewAchievements: unlocked,
	}
	if result.NewAchievements == nil {
		result.NewAchievements = []domain.UnlockedAchievement{}
	}

	user := receipt.User
	if user == nil || len(unlocked) > 0 {
		if fresh, err := e.users.GetUser(ctx, userID); err == nil {
			user = fresh
		} else {
			e.logger.Warn("failed to reload user after award", "user_id", userID, "error", err)
		}
	}
	if user != nil {
		result.TotalPoints = user.Points
		result.Rank = user.Rank
		result.Level = user.Level
	}

	if e.notifier != nil {
		e.notifier.PointsAwarded(userID, *result)
		for _, a := range unlocked {
			e.notifier.AchievementUnlocked(userID, a)
		}
	}
	return result
}

// GetProgressSnapshot returns the user's rank progress
func (e *Engine) GetProgressSnapshot(ctx context.Context, userID string) (*domain.ProgressSnapshot, error) {
	userID = normalizeUserID(userID)
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	snap := e.progression.Table().Snapshot(user)
	return &snap, nil
}

// ListAchievements returns the catalog with the user's progress
func (e *Engine) ListAchievements(ctx context.Context, userID string) ([]domain.AchievementProgress, error) {
	return e.unlocker.Progress(ctx, normalizeUserID(userID))
}

// ListTransactions returns the user's most recent transactions
func (e *Engine) ListTransactions(ctx context.Context, userID string, limit int, actionType domain.ActionType) ([]domain.PointTransaction, error) {
	userID = normalizeUserID(userID)
	if actionType != "" && !actionType.Valid() {
		return nil, fmt.Errorf("filtering transactions by %q: %w", actionType, domain.ErrInvalidAction)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if _, err := e.users.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	txs, err := e.transactions.ListTransactions(ctx, userID, limit, actionType)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return txs, nil
}
