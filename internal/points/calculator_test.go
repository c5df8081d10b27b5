package points

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/memory"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCalculator(t *testing.T) (*Calculator, *memory.Store, *domain.User) {
	t.Helper()
	st := memory.NewStore()
	user, err := st.EnsureUser(context.Background(), "user-1", "ada", testNow)
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	opts := DefaultOptions()
	logger := discardLogger()
	calc := NewCalculator(st, st, NewComboTracker(st, st, opts, logger), opts, logger)
	calc.SetClock(func() time.Time { return testNow })
	return calc, st, user
}

func addTransactions(t *testing.T, st *memory.Store, userID string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := st.InsertTransaction(context.Background(), domain.PointTransaction{
			ID:            userID + "-tx-" + at.Format(time.RFC3339Nano) + string(rune('a'+i)),
			UserID:        userID,
			ActionType:    domain.ActionReport,
			PointsAwarded: 10,
			CreatedAt:     at,
		})
		if err != nil {
			t.Fatalf("insert transaction: %v", err)
		}
	}
}

func TestReportScenarioFirstTimeHazardous(t *testing.T) {
	calc, _, user := newTestCalculator(t)

	award := calc.Report(context.Background(), user, domain.ReportContext{
		Size:             "Large",
		TrashType:        "Hazardous",
		Severity:         "high",
		HasAIDescription: true,
		Latitude:         40.7128,
		Longitude:        -74.0060,
	})

	b := award.Breakdown
	if b.BasePoints != 40 || b.TypeMultiplier != 2.5 || b.QualityBonus != 15 || b.AIBonus != 8 {
		t.Fatalf("unexpected breakdown %+v", b)
	}
	if b.FirstTimeBonus != 0.25 || b.LocationBonus != 0 {
		t.Fatalf("expected only the first-time bonus, got location=%v first=%v", b.LocationBonus, b.FirstTimeBonus)
	}
	if b.StreakMultiplier != 1 || b.ComboMultiplier != 0 || b.RankMultiplier != 1 {
		t.Fatalf("expected neutral multipliers, got %+v", b)
	}
	if award.Points != 154 {
		t.Fatalf("expected 154 points, got %d", award.Points)
	}
}

func TestReportRevisitGetsNoFirstTimeBonus(t *testing.T) {
	calc, st, user := newTestCalculator(t)
	ctx := context.Background()
	rc := domain.ReportContext{Size: "Small", TrashType: "General", Latitude: 10, Longitude: 10}

	first := calc.Report(ctx, user, rc)
	if first.Breakdown.FirstTimeBonus != 0.25 {
		t.Fatalf("expected first-time bonus on first visit")
	}

	reloaded, err := st.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if len(reloaded.VisitedLocations) != 1 {
		t.Fatalf("expected visited location recorded, got %d", len(reloaded.VisitedLocations))
	}

	// ~55m north of the first report
	rc.Latitude += 0.0005
	second := calc.Report(ctx, reloaded, rc)
	if second.Breakdown.FirstTimeBonus != 0 {
		t.Fatalf("expected no first-time bonus within 100m")
	}
	if second.Points != 15 {
		t.Fatalf("expected 15 points, got %d", second.Points)
	}
}

func TestReportDefaultsAndTrashCount(t *testing.T) {
	calc, _, user := newTestCalculator(t)
	user.VisitedLocations = []domain.Location{{Lat: 1, Lng: 1}}

	award := calc.Report(context.Background(), user, domain.ReportContext{
		Size:       "Enormous",
		TrashType:  "Unknown",
		Severity:   "extreme",
		TrashCount: 3,
		Latitude:   1,
		Longitude:  1,
	})
	// 25 * 1.0 * 3
	if award.Points != 75 {
		t.Fatalf("expected 75 points, got %d", award.Points)
	}
	if award.Breakdown.BasePoints != 75 {
		t.Fatalf("expected base 75, got %d", award.Breakdown.BasePoints)
	}
}

func TestCleanupScoring(t *testing.T) {
	calc, _, user := newTestCalculator(t)
	user.VisitedLocations = []domain.Location{{Lat: 5, Lng: 5}}

	cases := []struct {
		name string
		cc   domain.CleanupContext
		want int64
	}{
		{
			name: "hard verified fast",
			cc:   domain.CleanupContext{VerificationConfidence: 0.9, Verified: true, TimeTakenSeconds: 300, Difficulty: "hard", Latitude: 5, Longitude: 5},
			// 30*1.8 + 23 + 10 + 20 = 107
			want: 107,
		},
		{
			name: "default difficulty slow unverified",
			cc:   domain.CleanupContext{VerificationConfidence: 0.5, TimeTakenSeconds: 900, Latitude: 5, Longitude: 5},
			// 30*1.3 + 13 = 52
			want: 52,
		},
		{
			name: "unknown difficulty zero time",
			cc:   domain.CleanupContext{VerificationConfidence: 0, Difficulty: "brutal", Latitude: 5, Longitude: 5},
			// 30*1.3 = 39
			want: 39,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			award := calc.Cleanup(context.Background(), user, c.cc)
			if award.Points != c.want {
				t.Fatalf("expected %d points, got %d (%+v)", c.want, award.Points, award.Breakdown)
			}
		})
	}
}

func TestCleanupFallbackOnNonFiniteInput(t *testing.T) {
	calc, _, user := newTestCalculator(t)

	award := calc.Cleanup(context.Background(), user, domain.CleanupContext{
		VerificationConfidence: math.NaN(),
		Latitude:               1,
		Longitude:              1,
	})
	if award.Points != CleanupFallback || !award.Breakdown.Fallback {
		t.Fatalf("expected cleanup fallback, got %+v", award)
	}
}

func TestReportFallbackOnPanic(t *testing.T) {
	calc, _, user := newTestCalculator(t)
	calc.combo = nil

	award := calc.Report(context.Background(), user, domain.ReportContext{Size: "Small", Latitude: 1, Longitude: 1})
	if award.Points != ReportFallback || !award.Breakdown.Fallback {
		t.Fatalf("expected report fallback, got %+v", award)
	}
}

func TestStreakAndRankMultipliers(t *testing.T) {
	calc, _, user := newTestCalculator(t)
	user.VisitedLocations = []domain.Location{{Lat: 1, Lng: 1}}
	user.StreakDays = 100
	user.PointsMultiplier = 1.25

	award := calc.Report(context.Background(), user, domain.ReportContext{Size: "Medium", Latitude: 1, Longitude: 1})
	// 25 * 2.0 (capped) * 1.25
	if award.Points != 63 {
		t.Fatalf("expected 63 points, got %d", award.Points)
	}
	if award.Breakdown.StreakMultiplier != 2.0 {
		t.Fatalf("expected capped streak multiplier, got %v", award.Breakdown.StreakMultiplier)
	}
}

func TestComboAppliesAfterTwoRecentActions(t *testing.T) {
	calc, st, user := newTestCalculator(t)
	ctx := context.Background()
	user.VisitedLocations = []domain.Location{{Lat: 1, Lng: 1}}
	rc := domain.ReportContext{Size: "Medium", Latitude: 1, Longitude: 1}

	// an old transaction outside the window does not count
	addTransactions(t, st, user.ID, 1, testNow.Add(-2*time.Hour))
	addTransactions(t, st, user.ID, 1, testNow.Add(-10*time.Minute))

	if award := calc.Report(ctx, user, rc); award.Breakdown.ComboMultiplier != 0 || award.Points != 25 {
		t.Fatalf("expected no combo with one recent action, got %+v", award)
	}

	addTransactions(t, st, user.ID, 1, testNow.Add(-5*time.Minute))
	award := calc.Report(ctx, user, rc)
	if award.Breakdown.ComboMultiplier != 0.5 {
		t.Fatalf("expected combo multiplier 0.5, got %v", award.Breakdown.ComboMultiplier)
	}
	// 25 * 1.5 = 37.5 rounds half away from zero
	if award.Points != 38 {
		t.Fatalf("expected 38 points, got %d", award.Points)
	}

	calc.Report(ctx, user, rc)
	reloaded, _ := st.GetUser(ctx, user.ID)
	if reloaded.ComboStreak != 2 || reloaded.MaxComboStreak != 2 {
		t.Fatalf("expected combo streak 2/2, got %d/%d", reloaded.ComboStreak, reloaded.MaxComboStreak)
	}
}

func TestLocationBonusTakesBestActiveZone(t *testing.T) {
	calc, st, user := newTestCalculator(t)
	ctx := context.Background()
	user.VisitedLocations = []domain.Location{{Lat: 48.8566, Lng: 2.3522}}
	expired := testNow.Add(-24 * time.Hour)

	zones := []domain.LocationBonus{
		{ID: "park", Latitude: 48.8566, Longitude: 2.3522, RadiusMeters: 500, Multiplier: 1.2, Active: true},
		{ID: "event", Latitude: 48.8570, Longitude: 2.3525, RadiusMeters: 1000, Multiplier: 1.8, Active: true},
		{ID: "old", Latitude: 48.8566, Longitude: 2.3522, RadiusMeters: 500, Multiplier: 3.0, Active: true, ValidUntil: &expired},
		{ID: "off", Latitude: 48.8566, Longitude: 2.3522, RadiusMeters: 500, Multiplier: 2.5, Active: false},
		{ID: "far", Latitude: 40.0, Longitude: 2.0, RadiusMeters: 500, Multiplier: 4.0, Active: true},
	}
	for _, z := range zones {
		if err := st.UpsertLocationBonus(ctx, z); err != nil {
			t.Fatalf("upsert zone: %v", err)
		}
	}

	award := calc.Report(ctx, user, domain.ReportContext{Size: "Medium", Latitude: 48.8566, Longitude: 2.3522})
	if math.Abs(award.Breakdown.LocationBonus-0.8) > 1e-9 {
		t.Fatalf("expected 0.8 location bonus, got %v", award.Breakdown.LocationBonus)
	}
	// 25 * 1.8
	if award.Points != 45 {
		t.Fatalf("expected 45 points, got %d", award.Points)
	}
}

func TestInvalidCoordinatesSkipLocationBonuses(t *testing.T) {
	calc, st, user := newTestCalculator(t)

	award := calc.Report(context.Background(), user, domain.ReportContext{Size: "Medium", Latitude: 120, Longitude: 0})
	if award.Breakdown.FirstTimeBonus != 0 || award.Points != 25 {
		t.Fatalf("expected no location bonuses, got %+v", award)
	}
	reloaded, _ := st.GetUser(context.Background(), user.ID)
	if len(reloaded.VisitedLocations) != 0 {
		t.Fatalf("invalid coordinates must not be recorded")
	}
}

func TestVisitedLocationsAreCapped(t *testing.T) {
	calc, st, user := newTestCalculator(t)
	calc.opts.MaxVisitedLocations = 3
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		calc.Report(ctx, user, domain.ReportContext{Size: "Small", Latitude: float64(i), Longitude: 0})
	}
	reloaded, _ := st.GetUser(ctx, user.ID)
	if len(reloaded.VisitedLocations) != 3 {
		t.Fatalf("expected 3 visited locations, got %d", len(reloaded.VisitedLocations))
	}
	if reloaded.VisitedLocations[0].Lat != 2 {
		t.Fatalf("expected oldest locations evicted, first is %v", reloaded.VisitedLocations[0])
	}
}
