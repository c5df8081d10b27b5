package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cleanquest/progression/internal/config"
	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/memory"
)

func TestRunJobUnknown(t *testing.T) {
	s := NewScheduler(time.UTC, discardLogger())

	err := s.RunJob(context.Background(), "challenge_progress")
	if !errors.Is(err, domain.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestFailingJobIsIsolated(t *testing.T) {
	s := NewScheduler(time.UTC, discardLogger())
	ran := 0

	if err := s.Register(Job{Name: "explodes", Run: func(context.Context) error { panic("boom") }}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(Job{Name: "fails", Run: func(context.Context) error { return errors.New("db down") }}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(Job{Name: "works", Run: func(context.Context) error { ran++; return nil }}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.RunJob(context.Background(), "explodes"); err == nil {
		t.Fatalf("expected panic converted to error")
	}
	if err := s.RunJob(context.Background(), "fails"); err == nil {
		t.Fatalf("expected job error")
	}
	for i := 0; i < 2; i++ {
		if err := s.RunJob(context.Background(), "works"); err != nil {
			t.Fatalf("works: %v", err)
		}
	}
	if ran != 2 {
		t.Fatalf("expected healthy job to keep running, ran %d", ran)
	}
	if err := s.RunJob(context.Background(), "explodes"); err == nil {
		t.Fatalf("expected failing job to run again and fail again")
	}
}

func TestRegisterRejectsBadSpecAndDuplicates(t *testing.T) {
	s := NewScheduler(time.UTC, discardLogger())
	noop := func(context.Context) error { return nil }

	if err := s.Register(Job{Name: "bad", Spec: "every tuesday", Run: noop}); err == nil {
		t.Fatalf("expected invalid spec error")
	}
	if err := s.Register(Job{Name: "ok", Spec: "0 * * * *", Run: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(Job{Name: "ok", Spec: "0 * * * *", Run: noop}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestRegisterAllJobs(t *testing.T) {
	st := memory.NewStore()
	cfg := config.DefaultConfig().Scheduler
	jobs := NewJobs(st, st, &countingRebuilder{}, &cfg, time.UTC, discardLogger())
	s := NewScheduler(time.UTC, discardLogger())

	if err := jobs.Register(s); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	infos := s.Jobs()
	want := []string{JobLeaderboardRebuild, JobMonthlyReset, JobStreakUpdate, JobTransactionPrune, JobWeeklyReset}
	if len(infos) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(infos))
	}
	for i, info := range infos {
		if info.Name != want[i] {
			t.Fatalf("job %d = %s, want %s", i, info.Name, want[i])
		}
		if info.NextRun.IsZero() {
			t.Fatalf("job %s has no next run", info.Name)
		}
	}
	for _, name := range want {
		if err := s.RunJob(context.Background(), name); err != nil {
			t.Fatalf("run %s: %v", name, err)
		}
	}
}

func TestStartupJobRunsAfterDelay(t *testing.T) {
	s := NewScheduler(time.UTC, discardLogger())
	done := make(chan struct{})

	if err := s.Register(Job{Name: "rebuild", Run: func(context.Context) error {
		close(done)
		return nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.RunOnStart("rebuild", 10*time.Millisecond)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("startup job did not run")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.IsRunning() {
		t.Fatalf("expected stopped scheduler")
	}
}

func TestStopCancelsPendingStartupJob(t *testing.T) {
	s := NewScheduler(time.UTC, discardLogger())
	ran := make(chan struct{}, 1)

	if err := s.Register(Job{Name: "rebuild", Run: func(context.Context) error {
		ran <- struct{}{}
		return nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.RunOnStart("rebuild", time.Hour)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-ran:
		t.Fatalf("startup job must not run after stop")
	default:
	}
}

func TestRunJobNeverOverlaps(t *testing.T) {
	s := NewScheduler(time.UTC, discardLogger())
	var active, peak, runs int32
	release := make(chan struct{})

	err := s.Register(Job{Name: JobLeaderboardRebuild, Run: func(context.Context) error {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&active, -1)
		atomic.AddInt32(&runs, 1)
		return nil
	}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.RunJob(context.Background(), JobLeaderboardRebuild); err != nil {
				t.Errorf("run: %v", err)
			}
		}()
	}
	for i := 0; i < 3; i++ {
		release <- struct{}{}
	}
	wg.Wait()

	if runs != 3 || peak != 1 {
		t.Fatalf("expected 3 serial runs, got runs=%d peak concurrency=%d", runs, peak)
	}
}

func TestRunJobWaitHonoursContext(t *testing.T) {
	s := NewScheduler(time.UTC, discardLogger())
	started := make(chan struct{})
	release := make(chan struct{})
	if err := s.Register(Job{Name: JobWeeklyReset, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.RunJob(context.Background(), JobWeeklyReset) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.RunJob(ctx, JobWeeklyReset); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the waiting run to give up with the context, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}
