package rank

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/store"
)

const maxRecomputeAttempts = 3

// Progression recomputes a user's rank, level and multiplier from points.
// Writes are conditional on the points range so a stale read never
// overwrites a tier computed from a newer total.
type Progression struct {
	users  store.Users
	table  *Table
	logger *slog.Logger
}

// NewProgression creates a new rank progression
func NewProgression(users store.Users, table *Table, logger *slog.Logger) *Progression {
	return &Progression{
		users:  users,
		table:  table,
		logger: logger,
	}
}

// Table returns the rank table in use
func (p *Progression) Table() *Table {
	return p.table
}

// Recompute reloads the user and stores the tier matching their points
func (p *Progression) Recompute(ctx context.Context, userID string) (*domain.User, error) {
	var user *domain.User
	for attempt := 0; attempt < maxRecomputeAttempts; attempt++ {
		u, err := p.users.GetUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("loading user for rank: %w", err)
		}
		user = u

		tier := p.table.For(u.Points)
		if u.Rank == tier.Name && u.Level == tier.Level && u.PointsMultiplier == tier.Multiplier {
			return u, nil
		}

		applied, err := p.users.SetRank(ctx, userID, p.table.Update(u.Points))
		if err != nil {
			return nil, fmt.Errorf("setting rank: %w", err)
		}
		if applied {
			if u.Rank != tier.Name {
				p.logger.Info("rank changed",
					"user_id", userID,
					"from", u.Rank,
					"to", tier.Name,
					"points", u.Points,
				)
			}
			u.Rank = tier.Name
			u.Level = tier.Level
			u.PointsMultiplier = tier.Multiplier
			return u, nil
		}
		// points moved between the read and the write; reload
	}

	p.logger.Warn("rank recompute gave up after concurrent updates",
		"user_id", userID,
		"attempts", maxRecomputeAttempts,
	)
	return user, nil
}
