package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/memory"
	"github.com/cleanquest/progression/internal/rank"
)

func newTestLedger(t *testing.T) (*Ledger, *memory.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.NewStore()
	if _, err := st.EnsureUser(context.Background(), "u1", "grace", time.Now()); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	progression := rank.NewProgression(st, rank.DefaultTable(), logger)
	return New(st, st, progression, time.UTC, logger), st
}

func TestConcurrentAwardsAreNotLost(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Record(ctx, Entry{UserID: "u1", ActionType: domain.ActionCleanup, Points: 30, Cleanups: 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	u, err := st.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Points != 60 || u.WeeklyPoints != 60 || u.MonthlyPoints != 60 {
		t.Fatalf("expected 60 across all totals, got %d/%d/%d", u.Points, u.WeeklyPoints, u.MonthlyPoints)
	}
	if u.TotalCleanups != 2 {
		t.Fatalf("expected 2 cleanups, got %d", u.TotalCleanups)
	}
}

func TestManyConcurrentAwardsMatchLedgerSum(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(points int64) {
			defer wg.Done()
			if _, err := l.Record(ctx, Entry{UserID: "u1", ActionType: domain.ActionReport, Points: points, Reports: 1}); err != nil {
				t.Errorf("record: %v", err)
			}
		}(int64(i * 10))
	}
	wg.Wait()

	txs, _ := st.ListTransactions(ctx, "u1", 0, "")
	var sum int64
	for _, tx := range txs {
		sum += tx.PointsAwarded
	}
	u, _ := st.GetUser(ctx, "u1")
	if u.Points != sum {
		t.Fatalf("aggregate %d drifted from ledger sum %d", u.Points, sum)
	}
	// 10+20+...+500
	if sum != 12750 {
		t.Fatalf("unexpected ledger sum %d", sum)
	}
	if u.Rank != "Planet Champion" || u.Level != 5 || u.PointsMultiplier != 1.2 {
		t.Fatalf("rank not consistent with points: %s/%d/%v", u.Rank, u.Level, u.PointsMultiplier)
	}
}

func TestRecordUpdatesRankAndActivity(t *testing.T) {
	l, _ := newTestLedger(t)
	fixed := time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return fixed })

	receipt, err := l.Record(context.Background(), Entry{
		UserID:     "u1",
		ActionType: domain.ActionReport,
		Points:     520,
		Breakdown:  domain.Breakdown{BasePoints: 40, TypeMultiplier: 2.5},
		Related:    domain.RelatedIDs{ReportID: "r1"},
		Reports:    1,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if receipt.TransactionID == "" || receipt.User == nil {
		t.Fatalf("expected transaction id and user, got %+v", receipt)
	}
	if receipt.User.Rank != "Green Helper" || receipt.User.Level != 2 {
		t.Fatalf("expected Green Helper, got %s/%d", receipt.User.Rank, receipt.User.Level)
	}
	if receipt.User.LastActivityDate == nil || !receipt.User.LastActivityDate.Equal(time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected activity date %v", receipt.User.LastActivityDate)
	}
	if receipt.User.TotalReports != 1 {
		t.Fatalf("expected report counter incremented")
	}
}

func TestAggregateFailureIsNotFatal(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()
	st.FailApplyDelta(errors.New("connection reset"))

	receipt, err := l.Record(ctx, Entry{UserID: "u1", ActionType: domain.ActionCleanup, Points: 30})
	if err != nil {
		t.Fatalf("expected aggregate failure to be swallowed, got %v", err)
	}
	if receipt.TransactionID == "" || receipt.User != nil {
		t.Fatalf("expected written row without user, got %+v", receipt)
	}

	txs, _ := st.ListTransactions(ctx, "u1", 0, "")
	if len(txs) != 1 {
		t.Fatalf("expected orphan transaction row, got %d", len(txs))
	}
}

func TestRecordRejectsInvalidAction(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Record(context.Background(), Entry{UserID: "u1", ActionType: "gift", Points: 5})
	if !errors.Is(err, domain.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}
