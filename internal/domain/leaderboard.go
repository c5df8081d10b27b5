package domain

import (
	"sort"
	"time"
)

// Window selects which points column a leaderboard ranks by
type Window string

const (
	WindowTotal   Window = "total"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// Windows lists every leaderboard window
var Windows = []Window{WindowTotal, WindowWeekly, WindowMonthly}

// ParseWindow validates a window name, defaulting to total
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case "", WindowTotal:
		return WindowTotal, nil
	case WindowWeekly:
		return WindowWeekly, nil
	case WindowMonthly:
		return WindowMonthly, nil
	}
	return "", ErrInvalidWindow
}

// LeaderboardCacheEntry is a denormalized row of the rebuilt read model
type LeaderboardCacheEntry struct {
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	TotalPoints   int64     `json:"total_points"`
	WeeklyPoints  int64     `json:"weekly_points"`
	MonthlyPoints int64     `json:"monthly_points"`
	Level         int       `json:"level"`
	RankName      string    `json:"rank_name"`
	TotalCleanups int       `json:"total_cleanups"`
	TotalReports  int       `json:"total_reports"`
	StreakDays    int       `json:"streak_days"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Score returns the points column the window ranks by
func (e LeaderboardCacheEntry) Score(w Window) int64 {
	switch w {
	case WindowWeekly:
		return e.WeeklyPoints
	case WindowMonthly:
		return e.MonthlyPoints
	default:
		return e.TotalPoints
	}
}

// LeaderboardEntry is a positioned row returned to readers
type LeaderboardEntry struct {
	Position int `json:"position"`
	LeaderboardCacheEntry
}

// Less orders a before b for the given window.
// Total breaks ties on cleanups, period windows on lifetime points.
func Less(a, b LeaderboardCacheEntry, w Window) bool {
	if sa, sb := a.Score(w), b.Score(w); sa != sb {
		return sa > sb
	}
	if w == WindowTotal {
		if a.TotalCleanups != b.TotalCleanups {
			return a.TotalCleanups > b.TotalCleanups
		}
	} else if a.TotalPoints != b.TotalPoints {
		return a.TotalPoints > b.TotalPoints
	}
	return a.UserID < b.UserID
}

// Rank sorts entries for w and assigns 1-based positions
func Rank(entries []LeaderboardCacheEntry, w Window) []LeaderboardEntry {
	sorted := make([]LeaderboardCacheEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Less(sorted[i], sorted[j], w)
	})

	out := make([]LeaderboardEntry, len(sorted))
	for i, e := range sorted {
		out[i] = LeaderboardEntry{Position: i + 1, LeaderboardCacheEntry: e}
	}
	return out
}

// PeriodSnapshot archives the top of a window before it is reset
type PeriodSnapshot struct {
	ID         string             `json:"id"`
	Window     Window             `json:"window"`
	PeriodKey  string             `json:"period_key"`
	Entries    []LeaderboardEntry `json:"entries"`
	CapturedAt time.Time          `json:"captured_at"`
}

// Standing is a user's position in a window
type Standing struct {
	Window   Window `json:"window"`
	UserID   string `json:"user_id"`
	Position int    `json:"position"`
	Score    int64  `json:"score"`
	Total    int    `json:"total"`
}

// LocationBonus is a geofenced multiplier zone
type LocationBonus struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Latitude     float64    `json:"latitude"`
	Longitude    float64    `json:"longitude"`
	RadiusMeters float64    `json:"radius_meters"`
	Multiplier   float64    `json:"multiplier"`
	Active       bool       `json:"is_active"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
}

// ActiveAt reports whether the zone applies on the given date
func (b LocationBonus) ActiveAt(t time.Time) bool {
	if !b.Active {
		return false
	}
	if b.ValidFrom != nil && t.Before(*b.ValidFrom) {
		return false
	}
	if b.ValidUntil != nil && t.After(*b.ValidUntil) {
		return false
	}
	return true
}
