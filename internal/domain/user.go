package domain

import "time"

// User holds the gamification aggregate owned by the engine
type User struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	Points           int64      `json:"points"`
	WeeklyPoints     int64      `json:"weekly_points"`
	MonthlyPoints    int64      `json:"monthly_points"`
	TotalCleanups    int        `json:"total_cleanups"`
	TotalReports     int        `json:"total_reports"`
	StreakDays       int        `json:"streak_days"`
	ComboStreak      int        `json:"combo_streak"`
	MaxComboStreak   int        `json:"max_combo_streak"`
	PointsMultiplier float64    `json:"points_multiplier"`
	Rank             string     `json:"rank"`
	Level            int        `json:"level"`
	LastActivityDate *time.Time `json:"last_activity_date,omitempty"`
	VisitedLocations []Location `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Registration defaults, matching the first rank tier
const (
	DefaultRank       = "Eco Novice"
	DefaultLevel      = 1
	DefaultMultiplier = 1.0
)

// NewUser returns a freshly registered aggregate
func NewUser(id, username string, at time.Time) *User {
	return &User{
		ID:               id,
		Username:         username,
		PointsMultiplier: DefaultMultiplier,
		Rank:             DefaultRank,
		Level:            DefaultLevel,
		CreatedAt:        at,
	}
}

// Location is an approximate coordinate pair
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// AggregateDelta is applied atomically to a user row by the ledger
type AggregateDelta struct {
	Points       int64
	Reports      int
	Cleanups     int
	ActivityDate time.Time
}

// ComboState is the result of bumping a user's combo streak
type ComboState struct {
	ComboStreak    int `json:"combo_streak"`
	MaxComboStreak int `json:"max_combo_streak"`
}

// StatFor returns the user counter tracked by an achievement type
func (u *User) StatFor(t AchievementType) int64 {
	switch t {
	case AchievementCleanups:
		return int64(u.TotalCleanups)
	case AchievementReports:
		return int64(u.TotalReports)
	case AchievementPoints:
		return u.Points
	case AchievementStreak:
		return int64(u.StreakDays)
	default:
		return 0
	}
}

// DateOf truncates t to midnight in loc
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
