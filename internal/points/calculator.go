// Package points turns report and cleanup actions into scored awards.
package points

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/geo"
	"github.com/cleanquest/progression/internal/store"
)

// Options tunes the contextual bonuses
type Options struct {
	ComboWindow         time.Duration
	ComboThreshold      int
	ComboBonus          float64
	FirstTimeRadius     float64
	FirstTimeBonus      float64
	MaxVisitedLocations int
}

// DefaultOptions returns the production tuning
func DefaultOptions() Options {
	return Options{
		ComboWindow:         time.Hour,
		ComboThreshold:      2,
		ComboBonus:          0.5,
		FirstTimeRadius:     100,
		FirstTimeBonus:      0.25,
		MaxVisitedLocations: 1000,
	}
}

// Calculator scores actions. It never fails: lookups that error count as
// zero bonus, and a calculation that cannot produce a finite total yields
// the fixed fallback for the action.
type Calculator struct {
	users  store.Users
	zones  store.LocationBonuses
	combo  *ComboTracker
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewCalculator creates a new points calculator
func NewCalculator(users store.Users, zones store.LocationBonuses, combo *ComboTracker, opts Options, logger *slog.Logger) *Calculator {
	return &Calculator{
		users:  users,
		zones:  zones,
		combo:  combo,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source
func (c *Calculator) SetClock(now func() time.Time) {
	c.now = now
	c.combo.SetClock(now)
}

// Report scores a trash report for user
func (c *Calculator) Report(ctx context.Context, user *domain.User, rc domain.ReportContext) (award domain.Award) {
	defer c.recoverTo(&award, user.ID, domain.ActionReport, ReportFallback)

	count := rc.TrashCount
	if count <= 0 {
		count = 1
	}
	base := float64(ReportBase(rc.Size))
	typeMul := TypeMultiplier(rc.TrashType)
	quality := QualityBonus(rc.Severity)
	ai := 0
	if rc.HasAIDescription {
		ai = aiBonus
	}

	b := domain.Breakdown{
		BasePoints:     int64(math.Round(base * float64(count))),
		TypeMultiplier: typeMul,
		QualityBonus:   quality,
		AIBonus:        ai,
	}
	subtotal := base*typeMul*float64(count) + float64(quality) + float64(ai)

	return c.finish(ctx, user, domain.ActionReport, rc.Latitude, rc.Longitude, subtotal, b, ReportFallback)
}

// Cleanup scores a verified cleanup for user
func (c *Calculator) Cleanup(ctx context.Context, user *domain.User, cc domain.CleanupContext) (award domain.Award) {
	defer c.recoverTo(&award, user.ID, domain.ActionCleanup, CleanupFallback)

	if math.IsNaN(cc.VerificationConfidence) || math.IsInf(cc.VerificationConfidence, 0) {
		c.logger.Error("cleanup calculation failed",
			"user_id", user.ID,
			"error", fmt.Errorf("non-finite verification confidence %v", cc.VerificationConfidence),
		)
		return fallback(CleanupFallback)
	}

	difficulty := DifficultyMultiplier(cc.Difficulty)
	verification := VerificationBonus(cc.VerificationConfidence)
	speed := 0
	if cc.TimeTakenSeconds > 0 && cc.TimeTakenSeconds < speedLimitSeconds {
		speed = speedBonus
	}
	completion := 0
	if cc.Verified {
		completion = completionBonus
	}

	b := domain.Breakdown{
		BasePoints:           cleanupBase,
		DifficultyMultiplier: difficulty,
		VerificationBonus:    verification,
		SpeedBonus:           speed,
		CompletionBonus:      completion,
	}
	subtotal := cleanupBase*difficulty + float64(verification+speed+completion)

	return c.finish(ctx, user, domain.ActionCleanup, cc.Latitude, cc.Longitude, subtotal, b, CleanupFallback)
}

// finish applies the shared location, streak, combo and rank chain
func (c *Calculator) finish(ctx context.Context, user *domain.User, action domain.ActionType, lat, lng, subtotal float64, b domain.Breakdown, fb int64) domain.Award {
	if geo.Valid(lat, lng) {
		b.LocationBonus = c.locationBonus(ctx, user.ID, lat, lng)
		b.FirstTimeBonus = c.firstTimeBonus(ctx, user, lat, lng)
	} else {
		c.logger.Warn("skipping location bonuses for invalid coordinates",
			"user_id", user.ID,
			"latitude", lat,
			"longitude", lng,
		)
	}
	total := subtotal * (1 + b.LocationBonus + b.FirstTimeBonus)

	b.StreakMultiplier = StreakMultiplier(user.StreakDays)
	total *= b.StreakMultiplier

	combo, err := c.combo.Bonus(ctx, user.ID)
	if err != nil {
		c.logger.Warn("combo bonus unavailable", "user_id", user.ID, "error", err)
		combo = 0
	}
	b.ComboMultiplier = combo
	total *= 1 + combo

	b.RankMultiplier = user.PointsMultiplier
	if b.RankMultiplier <= 0 {
		b.RankMultiplier = 1
	}
	total *= b.RankMultiplier

	if math.IsNaN(total) || math.IsInf(total, 0) {
		c.logger.Error("points calculation produced a non-finite total",
			"user_id", user.ID,
			"action", action,
		)
		return fallback(fb)
	}

	points := int64(math.Round(total))
	if points < 0 {
		points = 0
	}
	b.TotalPoints = points
	return domain.Award{Points: points, Breakdown: b}
}

// locationBonus is the best active zone multiplier minus one
func (c *Calculator) locationBonus(ctx context.Context, userID string, lat, lng float64) float64 {
	zones, err := c.zones.LocationBonusesAt(ctx, lat, lng, c.now())
	if err != nil {
		c.logger.Warn("location bonus lookup failed", "user_id", userID, "error", err)
		return 0
	}
	best := 0.0
	for _, z := range zones {
		if v := z.Multiplier - 1; v > best {
			best = v
		}
	}
	return best
}

// firstTimeBonus pays once per new location and records it
func (c *Calculator) firstTimeBonus(ctx context.Context, user *domain.User, lat, lng float64) float64 {
	for _, v := range user.VisitedLocations {
		if geo.Distance(lat, lng, v.Lat, v.Lng) < c.opts.FirstTimeRadius {
			return 0
		}
	}

	loc := domain.Location{Lat: lat, Lng: lng}
	if err := c.users.RecordVisitedLocation(ctx, user.ID, loc, c.opts.MaxVisitedLocations); err != nil {
		c.logger.Warn("recording visited location failed", "user_id", user.ID, "error", err)
		return 0
	}
	user.VisitedLocations = append(user.VisitedLocations, loc)
	return c.opts.FirstTimeBonus
}

func (c *Calculator) recoverTo(award *domain.Award, userID string, action domain.ActionType, fb int64) {
	if r := recover(); r != nil {
		c.logger.Error("points calculation panicked",
			"user_id", userID,
			"action", action,
			"panic", r,
		)
		*award = fallback(fb)
	}
}

func fallback(points int64) domain.Award {
	return domain.Award{
		Points: points,
		Breakdown: domain.Breakdown{
			BasePoints:  points,
			TotalPoints: points,
			Fallback:    true,
		},
	}
}
