// Package rank maps cumulative points to progression tiers and keeps a
// user's stored tier consistent with their points.
package rank

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/store"
)

// Tier is one row of the rank table
type Tier struct {
	Name       string  `json:"name"`
	MinPoints  int64   `json:"min_points"`
	Multiplier float64 `json:"multiplier"`
	Level      int     `json:"level"`
}

// Table is an ascending, immutable list of tiers
type Table struct {
	tiers []Tier
}

// DefaultTiers is the production rank ladder
var DefaultTiers = []Tier{
	{Name: "Eco Novice", MinPoints: 0, Multiplier: 1.0, Level: 1},
	{Name: "Green Helper", MinPoints: 500, Multiplier: 1.05, Level: 2},
	{Name: "Cleanup Warrior", MinPoints: 1500, Multiplier: 1.1, Level: 3},
	{Name: "Environmental Guardian", MinPoints: 3500, Multiplier: 1.15, Level: 4},
	{Name: "Planet Champion", MinPoints: 7500, Multiplier: 1.2, Level: 5},
	{Name: "Eco Legend", MinPoints: 15000, Multiplier: 1.25, Level: 6},
}

// NewTable validates and copies tiers
func NewTable(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		return nil, errors.New("rank table is empty")
	}
	if tiers[0].MinPoints != 0 {
		return nil, fmt.Errorf("first tier %q must start at 0 points", tiers[0].Name)
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].MinPoints <= tiers[i-1].MinPoints {
			return nil, fmt.Errorf("tier %q is not above %q", tiers[i].Name, tiers[i-1].Name)
		}
	}
	cp := make([]Tier, len(tiers))
	copy(cp, tiers)
	return &Table{tiers: cp}, nil
}

// DefaultTable returns the table built from DefaultTiers
func DefaultTable() *Table {
	t, err := NewTable(DefaultTiers)
	if err != nil {
		panic(err)
	}
	return t
}

// Tiers returns a copy of the ladder
func (t *Table) Tiers() []Tier {
	cp := make([]Tier, len(t.tiers))
	copy(cp, t.tiers)
	return cp
}

// index returns the highest tier with MinPoints <= points
func (t *Table) index(points int64) int {
	i := sort.Search(len(t.tiers), func(i int) bool {
		return t.tiers[i].MinPoints > points
	}) - 1
	if i < 0 {
		return 0
	}
	return i
}

// For returns the tier a points total belongs to.
// Negative totals map to the first tier.
func (t *Table) For(points int64) Tier {
	return t.tiers[t.index(points)]
}

// Next returns the tier above the one points belongs to
func (t *Table) Next(points int64) (Tier, bool) {
	i := t.index(points) + 1
	if i >= len(t.tiers) {
		return Tier{}, false
	}
	return t.tiers[i], true
}

// Update builds the conditional store write for the tier points belongs to
func (t *Table) Update(points int64) store.RankUpdate {
	i := t.index(points)
	tier := t.tiers[i]
	u := store.RankUpdate{
		Rank:       tier.Name,
		Level:      tier.Level,
		Multiplier: tier.Multiplier,
		MinPoints:  tier.MinPoints,
	}
	if i == 0 {
		// the first tier also covers negative totals
		u.MinPoints = math.MinInt64
	}
	if i+1 < len(t.tiers) {
		upper := t.tiers[i+1].MinPoints
		u.MaxPoints = &upper
	}
	return u
}

// Snapshot describes a user's place in the ladder
func (t *Table) Snapshot(u *domain.User) domain.ProgressSnapshot {
	cur := t.For(u.Points)
	snap := domain.ProgressSnapshot{
		UserID:          u.ID,
		Points:          u.Points,
		WeeklyPoints:    u.WeeklyPoints,
		MonthlyPoints:   u.MonthlyPoints,
		Rank:            cur.Name,
		Level:           cur.Level,
		Multiplier:      cur.Multiplier,
		StreakDays:      u.StreakDays,
		ComboStreak:     u.ComboStreak,
		MaxComboStreak:  u.MaxComboStreak,
		ProgressPercent: 100,
	}

	next, ok := t.Next(u.Points)
	if !ok {
		return snap
	}
	threshold := next.MinPoints
	snap.NextRank = next.Name
	snap.NextRankThreshold = &threshold
	snap.PointsToNextRank = threshold - u.Points

	span := float64(threshold - cur.MinPoints)
	done := float64(u.Points - cur.MinPoints)
	if done < 0 {
		done = 0
	}
	snap.ProgressPercent = float64(int(done/span*10000)) / 100
	return snap
}
