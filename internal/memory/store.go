// Package memory is a process-local implementation of the store ports.
// It honours the same atomicity and uniqueness rules as the Postgres
// repository and backs the test suites and the memory storage driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/geo"
	"github.com/cleanquest/progression/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps every table in maps and slices behind one lock, so each
// port method is atomic with respect to the others
type Store struct {
	mu sync.RWMutex

	users           map[string]*domain.User
	streakUpdatedOn map[string]int
	transactions    []domain.PointTransaction
	catalog         []domain.Achievement
	unlocked        map[string]map[string]domain.UserAchievement
	bonuses         map[string]domain.LocationBonus
	cache           []domain.LeaderboardCacheEntry
	snapshots       map[string]domain.PeriodSnapshot

	// failApplyDelta and failInsertTransaction let tests simulate write failures
	failApplyDelta        error
	failInsertTransaction error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		users:           make(map[string]*domain.User),
		streakUpdatedOn: make(map[string]int),
		transactions:    make([]domain.PointTransaction, 0),
		unlocked:        make(map[string]map[string]domain.UserAchievement),
		bonuses:         make(map[string]domain.LocationBonus),
		snapshots:       make(map[string]domain.PeriodSnapshot),
	}
}

// FailApplyDelta makes every subsequent ApplyDelta return err (nil clears)
func (s *Store) FailApplyDelta(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failApplyDelta = err
}

// FailInsertTransaction makes every subsequent InsertTransaction return err
// (nil clears)
func (s *Store) FailInsertTransaction(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failInsertTransaction = err
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() {}

// civil collapses a timestamp to a comparable calendar date in its own zone
func civil(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

func cloneUser(u *domain.User) *domain.User {
	cp := *u
	if u.LastActivityDate != nil {
		d := *u.LastActivityDate
		cp.LastActivityDate = &d
	}
	cp.VisitedLocations = append([]domain.Location(nil), u.VisitedLocations...)
	return &cp
}

func cacheEntry(u *domain.User, at time.Time) domain.LeaderboardCacheEntry {
	return domain.LeaderboardCacheEntry{
		UserID:        u.ID,
		Username:      u.Username,
		TotalPoints:   u.Points,
		WeeklyPoints:  u.WeeklyPoints,
		MonthlyPoints: u.MonthlyPoints,
		Level:         u.Level,
		RankName:      u.Rank,
		TotalCleanups: u.TotalCleanups,
		TotalReports:  u.TotalReports,
		StreakDays:    u.StreakDays,
		LastUpdated:   at,
	}
}

// Users

// EnsureUser creates the user with first-tier defaults unless present
func (s *Store) EnsureUser(_ context.Context, userID, username string, at time.Time) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID == "" {
		return nil, domain.ErrInvalidRequest
	}
	if u, ok := s.users[userID]; ok {
		return cloneUser(u), nil
	}
	u := domain.NewUser(userID, username, at.UTC())
	s.users[userID] = u
	return cloneUser(u), nil
}

// GetUser returns a copy of the user aggregate
func (s *Store) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(u), nil
}

// ApplyDelta adds the delta to the counters and records the activity date
func (s *Store) ApplyDelta(_ context.Context, userID string, delta domain.AggregateDelta) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failApplyDelta != nil {
		return nil, s.failApplyDelta
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u.Points += delta.Points
	u.WeeklyPoints += delta.Points
	u.MonthlyPoints += delta.Points
	u.TotalReports += delta.Reports
	u.TotalCleanups += delta.Cleanups
	if !delta.ActivityDate.IsZero() {
		d := delta.ActivityDate
		u.LastActivityDate = &d
	}
	return cloneUser(u), nil
}

// SetRank stores the tier only while the points fall inside its range
func (s *Store) SetRank(_ context.Context, userID string, update store.RankUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, domain.ErrUserNotFound
	}
	if u.Points < update.MinPoints {
		return false, nil
	}
	if update.MaxPoints != nil && u.Points >= *update.MaxPoints {
		return false, nil
	}
	u.Rank = update.Rank
	u.Level = update.Level
	u.PointsMultiplier = update.Multiplier
	return true, nil
}

// IncrementComboStreak bumps the combo streak and its high-water mark
func (s *Store) IncrementComboStreak(_ context.Context, userID string) (domain.ComboState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return domain.ComboState{}, domain.ErrUserNotFound
	}
	u.ComboStreak++
	if u.ComboStreak > u.MaxComboStreak {
		u.MaxComboStreak = u.ComboStreak
	}
	return domain.ComboState{ComboStreak: u.ComboStreak, MaxComboStreak: u.MaxComboStreak}, nil
}

// RecordVisitedLocation appends loc, evicting the oldest entries beyond max.
// A negative max keeps everything.
func (s *Store) RecordVisitedLocation(_ context.Context, userID string, loc domain.Location, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.VisitedLocations = append(u.VisitedLocations, loc)
	if max > 0 && len(u.VisitedLocations) > max {
		u.VisitedLocations = append([]domain.Location(nil), u.VisitedLocations[len(u.VisitedLocations)-max:]...)
	}
	return nil
}

// Transactions

// InsertTransaction appends to the ledger
func (s *Store) InsertTransaction(_ context.Context, tx domain.PointTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failInsertTransaction != nil {
		return s.failInsertTransaction
	}
	if tx.ID == "" || tx.UserID == "" {
		return domain.ErrInvalidRequest
	}
	s.transactions = append(s.transactions, tx)
	return nil
}

// CountTransactionsSince counts the user's transactions created at or after since
func (s *Store) CountTransactionsSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, tx := range s.transactions {
		if tx.UserID == userID && !tx.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ListTransactions returns the user's transactions newest first
func (s *Store) ListTransactions(_ context.Context, userID string, limit int, actionType domain.ActionType) ([]domain.PointTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.PointTransaction, 0)
	for _, tx := range s.transactions {
		if tx.UserID != userID {
			continue
		}
		if actionType != "" && tx.ActionType != actionType {
			continue
		}
		items = append(items, tx)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// DeleteTransactionsBefore prunes transactions created before cutoff
func (s *Store) DeleteTransactionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.transactions[:0]
	var removed int64
	for _, tx := range s.transactions {
		if tx.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, tx)
	}
	s.transactions = kept
	return removed, nil
}

// Achievements

// SeedAchievements adds catalog entries that are not present yet and
// returns how many were added
func (s *Store) SeedAchievements(_ context.Context, catalog []domain.Achievement) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]bool, len(s.catalog))
	for _, a := range s.catalog {
		existing[a.ID] = true
	}
	inserted := 0
	for _, a := range catalog {
		if existing[a.ID] {
			continue
		}
		s.catalog = append(s.catalog, a)
		existing[a.ID] = true
		inserted++
	}
	return inserted, nil
}

// ListAchievements returns the catalog in seed order
func (s *Store) ListAchievements(context.Context) ([]domain.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Achievement(nil), s.catalog...), nil
}

// ListLockedAchievements returns catalog entries the user has not unlocked,
// optionally restricted to one type
func (s *Store) ListLockedAchievements(_ context.Context, userID string, achievementType domain.AchievementType) ([]domain.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	have := s.unlocked[userID]
	items := make([]domain.Achievement, 0)
	for _, a := range s.catalog {
		if achievementType != "" && a.AchievementType != achievementType {
			continue
		}
		if _, ok := have[a.ID]; ok {
			continue
		}
		items = append(items, a)
	}
	return items, nil
}

// InsertUserAchievement records an unlock once per (user, achievement)
func (s *Store) InsertUserAchievement(_ context.Context, ua domain.UserAchievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.unlocked[ua.UserID]; !ok {
		s.unlocked[ua.UserID] = make(map[string]domain.UserAchievement)
	}
	if _, ok := s.unlocked[ua.UserID][ua.AchievementID]; ok {
		return domain.ErrAchievementAlreadyUnlocked
	}
	s.unlocked[ua.UserID][ua.AchievementID] = ua
	return nil
}

// ListUserAchievements returns the user's unlocks
func (s *Store) ListUserAchievements(_ context.Context, userID string) ([]domain.UserAchievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.UserAchievement, 0, len(s.unlocked[userID]))
	for _, ua := range s.unlocked[userID] {
		items = append(items, ua)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UnlockedAt.After(items[j].UnlockedAt)
	})
	return items, nil
}

// Location bonuses

// UpsertLocationBonus creates or replaces a bonus zone
func (s *Store) UpsertLocationBonus(_ context.Context, bonus domain.LocationBonus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bonus.ID == "" {
		return domain.ErrInvalidRequest
	}
	s.bonuses[bonus.ID] = bonus
	return nil
}

// LocationBonusesAt returns active zones covering the point at the given time
func (s *Store) LocationBonusesAt(_ context.Context, lat, lng float64, at time.Time) ([]domain.LocationBonus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.LocationBonus, 0)
	for _, b := range s.bonuses {
		if !b.ActiveAt(at) {
			continue
		}
		if geo.Distance(lat, lng, b.Latitude, b.Longitude) <= b.RadiusMeters {
			items = append(items, b)
		}
	}
	return items, nil
}

// Leaderboards

// TopUsers ranks users with points in the window
func (s *Store) TopUsers(_ context.Context, window domain.Window, limit int) ([]domain.LeaderboardCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	entries := make([]domain.LeaderboardCacheEntry, 0)
	for _, u := range s.users {
		e := cacheEntry(u, now)
		if e.Score(window) > 0 {
			entries = append(entries, e)
		}
	}
	ranked := domain.Rank(entries, window)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]domain.LeaderboardCacheEntry, len(ranked))
	for i, r := range ranked {
		out[i] = r.LeaderboardCacheEntry
	}
	return out, nil
}

// ResetWindowPoints zeroes the weekly or monthly counters
func (s *Store) ResetWindowPoints(_ context.Context, window domain.Window) (int64, error) {
	if window != domain.WindowWeekly && window != domain.WindowMonthly {
		return 0, domain.ErrInvalidWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, u := range s.users {
		if window == domain.WindowWeekly && u.WeeklyPoints != 0 {
			u.WeeklyPoints = 0
			n++
		}
		if window == domain.WindowMonthly && u.MonthlyPoints != 0 {
			u.MonthlyPoints = 0
			n++
		}
	}
	return n, nil
}

func snapshotKey(w domain.Window, periodKey string) string {
	return string(w) + "|" + periodKey
}

// SavePeriodSnapshot stores the snapshot unless its period already has one
func (s *Store) SavePeriodSnapshot(_ context.Context, snap domain.PeriodSnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := snapshotKey(snap.Window, snap.PeriodKey)
	if _, ok := s.snapshots[key]; ok {
		return false, nil
	}
	snap.Entries = append([]domain.LeaderboardEntry(nil), snap.Entries...)
	s.snapshots[key] = snap
	return true, nil
}

// ListSnapshots returns the newest snapshots for a window
func (s *Store) ListSnapshots(_ context.Context, window domain.Window, limit int) ([]domain.PeriodSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.PeriodSnapshot, 0)
	for _, snap := range s.snapshots {
		if snap.Window == window {
			items = append(items, snap)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].PeriodKey > items[j].PeriodKey
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// ResetInactiveStreaks clears streaks of users inactive since before yesterday
func (s *Store) ResetInactiveStreaks(_ context.Context, today time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := civil(today.AddDate(0, 0, -1))
	var n int64
	for _, u := range s.users {
		if u.LastActivityDate == nil || u.StreakDays == 0 {
			continue
		}
		if civil(*u.LastActivityDate) < cutoff {
			u.StreakDays = 0
			u.ComboStreak = 0
			n++
		}
	}
	return n, nil
}

// IncrementActiveStreaks adds a day for users with a transaction today,
// at most once per day
func (s *Store) IncrementActiveStreaks(_ context.Context, today time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := civil(today)
	active := make(map[string]bool)
	for _, tx := range s.transactions {
		if civil(tx.CreatedAt.In(today.Location())) == day {
			active[tx.UserID] = true
		}
	}

	var n int64
	for id, u := range s.users {
		if u.LastActivityDate == nil || civil(*u.LastActivityDate) != day || !active[id] {
			continue
		}
		if s.streakUpdatedOn[id] == day {
			continue
		}
		u.StreakDays++
		s.streakUpdatedOn[id] = day
		n++
	}
	return n, nil
}

// RebuildLeaderboardCache replaces the cache with the top users by points
func (s *Store) RebuildLeaderboardCache(_ context.Context, limit int, at time.Time) ([]domain.LeaderboardCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]domain.LeaderboardCacheEntry, 0)
	for _, u := range s.users {
		if u.Points > 0 {
			entries = append(entries, cacheEntry(u, at))
		}
	}
	ranked := domain.Rank(entries, domain.WindowTotal)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	cache := make([]domain.LeaderboardCacheEntry, len(ranked))
	for i, r := range ranked {
		cache[i] = r.LeaderboardCacheEntry
	}
	s.cache = cache
	return append([]domain.LeaderboardCacheEntry(nil), cache...), nil
}

// ListLeaderboardCache reads the cache ordered for a window
func (s *Store) ListLeaderboardCache(_ context.Context, window domain.Window, limit int) ([]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ranked := domain.Rank(s.cache, window)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}
