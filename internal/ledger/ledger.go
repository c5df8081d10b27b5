// Package ledger appends point transactions and applies them to the user
// aggregate.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/rank"
	"github.com/cleanquest/progression/internal/store"
	"github.com/google/uuid"
)

// Entry is a single award to be recorded
type Entry struct {
	UserID      string
	ActionType  domain.ActionType
	Points      int64
	Breakdown   domain.Breakdown
	Related     domain.RelatedIDs
	Reports     int
	Cleanups    int
	Description string
}

// Receipt is the outcome of Record
type Receipt struct {
	TransactionID string
	// User is the aggregate after the delta and rank recompute. It is nil
	// when the aggregate update failed after the row was written.
	User *domain.User
}

// Ledger records transactions. The transaction insert is the only step
// whose failure is returned; the aggregate update and rank recompute
// that follow are logged on failure.
type Ledger struct {
	transactions store.Transactions
	users        store.Users
	progression  *rank.Progression
	location     *time.Location
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a new ledger. Activity dates are taken in loc.
func New(transactions store.Transactions, users store.Users, progression *rank.Progression, loc *time.Location, logger *slog.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		transactions: transactions,
		users:        users,
		progression:  progression,
		location:     loc,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock replaces the time source
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Record inserts the transaction then applies it to the aggregate
func (l *Ledger) Record(ctx context.Context, e Entry) (Receipt, error) {
	if !e.ActionType.Valid() {
		return Receipt{}, fmt.Errorf("recording %q: %w", e.ActionType, domain.ErrInvalidAction)
	}
	if e.UserID == "" {
		return Receipt{}, fmt.Errorf("recording transaction without user: %w", domain.ErrInvalidRequest)
	}

	now := l.now()
	description := e.Description
	if description == "" {
		description = fmt.Sprintf("%s - %d points awarded", e.ActionType, e.Points)
	}
	tx := domain.PointTransaction{
		ID:            uuid.New().String(),
		UserID:        e.UserID,
		ActionType:    e.ActionType,
		PointsAwarded: e.Points,
		BasePoints:    e.Breakdown.BasePoints,
		Multipliers:   e.Breakdown.Multipliers(),
		Bonuses:       e.Breakdown.Bonuses(),
		Related:       e.Related,
		Description:   description,
		CreatedAt:     now.UTC(),
	}
	if err := l.transactions.InsertTransaction(ctx, tx); err != nil {
		return Receipt{}, fmt.Errorf("inserting transaction: %w", err)
	}

	receipt := Receipt{TransactionID: tx.ID}

	_, err := l.users.ApplyDelta(ctx, e.UserID, domain.AggregateDelta{
		Points:       e.Points,
		Reports:      e.Reports,
		Cleanups:     e.Cleanups,
		ActivityDate: domain.DateOf(now, l.location),
	})
	if err != nil {
		l.logger.Error("failed to apply points to user aggregate",
			"user_id", e.UserID,
			"transaction_id", tx.ID,
			"points", e.Points,
			"error", err,
		)
		return receipt, nil
	}

	user, err := l.progression.Recompute(ctx, e.UserID)
	if err != nil {
		l.logger.Error("failed to recompute rank",
			"user_id", e.UserID,
			"transaction_id", tx.ID,
			"error", err,
		)
		return receipt, nil
	}
	receipt.User = user

	l.logger.Debug("transaction recorded",
		"user_id", e.UserID,
		"transaction_id", tx.ID,
		"action", e.ActionType,
		"points", e.Points,
	)
	return receipt, nil
}
