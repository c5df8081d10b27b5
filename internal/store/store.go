// Package store declares the persistence ports the progression engine depends on.
// Implementations live in internal/postgres and internal/memory.
package store

import (
	"context"
	"time"

	"github.com/cleanquest/progression/internal/domain"
)

// RankUpdate assigns a tier to a user only while the user's points fall
// inside [MinPoints, MaxPoints). A nil MaxPoints means no upper bound.
type RankUpdate struct {
	Rank       string
	Level      int
	Multiplier float64
	MinPoints  int64
	MaxPoints  *int64
}

// Users is the user aggregate port. Every mutation is a single atomic
// statement relative to the stored value.
type Users interface {
	EnsureUser(ctx context.Context, userID, username string, at time.Time) (*domain.User, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ApplyDelta(ctx context.Context, userID string, delta domain.AggregateDelta) (*domain.User, error)
	SetRank(ctx context.Context, userID string, update RankUpdate) (bool, error)
	IncrementComboStreak(ctx context.Context, userID string) (domain.ComboState, error)
	RecordVisitedLocation(ctx context.Context, userID string, loc domain.Location, max int) error
}

// Transactions is the append-only point ledger
type Transactions interface {
	InsertTransaction(ctx context.Context, tx domain.PointTransaction) error
	CountTransactionsSince(ctx context.Context, userID string, since time.Time) (int, error)
	ListTransactions(ctx context.Context, userID string, limit int, actionType domain.ActionType) ([]domain.PointTransaction, error)
	DeleteTransactionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Achievements covers the catalog and the unique user junction.
// InsertUserAchievement returns domain.ErrAchievementAlreadyUnlocked when
// the (user, achievement) pair already exists.
type Achievements interface {
	SeedAchievements(ctx context.Context, catalog []domain.Achievement) (int, error)
	ListAchievements(ctx context.Context) ([]domain.Achievement, error)
	ListLockedAchievements(ctx context.Context, userID string, achievementType domain.AchievementType) ([]domain.Achievement, error)
	InsertUserAchievement(ctx context.Context, ua domain.UserAchievement) error
	ListUserAchievements(ctx context.Context, userID string) ([]domain.UserAchievement, error)
}

// LocationBonuses looks up geofenced multiplier zones
type LocationBonuses interface {
	UpsertLocationBonus(ctx context.Context, bonus domain.LocationBonus) error
	LocationBonusesAt(ctx context.Context, lat, lng float64, at time.Time) ([]domain.LocationBonus, error)
}

// Leaderboards holds the scheduled bulk operations and the cache read model
type Leaderboards interface {
	TopUsers(ctx context.Context, window domain.Window, limit int) ([]domain.LeaderboardCacheEntry, error)
	ResetWindowPoints(ctx context.Context, window domain.Window) (int64, error)
	SavePeriodSnapshot(ctx context.Context, snap domain.PeriodSnapshot) (bool, error)
	ListSnapshots(ctx context.Context, window domain.Window, limit int) ([]domain.PeriodSnapshot, error)
	ResetInactiveStreaks(ctx context.Context, today time.Time) (int64, error)
	IncrementActiveStreaks(ctx context.Context, today time.Time) (int64, error)
	RebuildLeaderboardCache(ctx context.Context, limit int, at time.Time) ([]domain.LeaderboardCacheEntry, error)
	ListLeaderboardCache(ctx context.Context, window domain.Window, limit int) ([]domain.LeaderboardEntry, error)
}

// Store is the full persistence surface
type Store interface {
	Users
	Transactions
	Achievements
	LocationBonuses
	Leaderboards
	Ping(ctx context.Context) error
	Close()
}
