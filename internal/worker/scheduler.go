package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/robfig/cron/v3"
)

// Job is a named unit of scheduled work
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// JobInfo describes a registered job
type JobInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	NextRun time.Time `json:"next_run"`
}

type entry struct {
	job  Job
	id   cron.EntryID
	slot chan struct{}
}

// Scheduler owns the cron runner and the registered jobs. Each run is
// isolated: a failing or panicking job is logged and the next run of it
// or any other job proceeds.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]entry
	logger  *slog.Logger
	startup string
	delay   time.Duration

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewScheduler creates a scheduler firing in loc. A job never runs twice at
// once: a cron firing while it is busy is skipped and RunJob waits for the
// current run to finish.
func NewScheduler(loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
		),
		jobs:   make(map[string]entry),
		logger: logger,
	}
}

// Register adds a job. An empty spec registers an on-demand job.
func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %q already registered", job.Name)
	}

	e := entry{job: job, slot: make(chan struct{}, 1)}
	if job.Spec != "" {
		slot := e.slot
		id, err := s.cron.AddFunc(job.Spec, func() {
			select {
			case slot <- struct{}{}:
			default:
				s.logger.Warn("job still running, skipping scheduled run", "job", job.Name)
				return
			}
			defer func() { <-slot }()
			_ = s.execute(s.jobContext(), job)
		})
		if err != nil {
			return fmt.Errorf("scheduling job %q: %w", job.Name, err)
		}
		e.id = id
		s.logger.Info("job scheduled", "job", job.Name, "spec", job.Spec)
	}
	s.jobs[job.Name] = e
	return nil
}

// RunOnStart runs the named job once after delay when the scheduler starts
func (s *Scheduler) RunOnStart(name string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startup = name
	s.delay = delay
}

// Start begins firing jobs
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.doneCh = make(chan struct{})
	startup, delay := s.startup, s.delay
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	go s.runStartup(startup, delay)

	s.logger.Info("scheduler started", "jobs", n)
	return nil
}

func (s *Scheduler) runStartup(name string, delay time.Duration) {
	defer close(s.doneCh)
	if name == "" {
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return
	case <-timer.C:
	}

	if err := s.RunJob(s.ctx, name); err != nil {
		s.logger.Error("startup job failed", "job", name, "error", err)
	}
}

// Stop halts scheduling and waits for running jobs to return
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	<-s.doneCh

	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is started
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunJob executes a registered job now, after any run of it in progress
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("running %q: %w", name, domain.ErrUnknownJob)
	}

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for %q: %w", name, ctx.Err())
	}
	defer func() { <-e.slot }()
	return s.execute(ctx, e.job)
}

// Jobs lists registered jobs sorted by name
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		info := JobInfo{Name: name, Spec: e.job.Spec}
		if e.id != 0 {
			info.NextRun = s.cron.Entry(e.id).Next
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// execute runs job with panic isolation and timing
func (s *Scheduler) execute(ctx context.Context, job Job) (err error) {
	start := time.Now()
	s.logger.Info("job started", "job", job.Name)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %q panicked: %v", job.Name, r)
		}
		if err != nil {
			s.logger.Error("job failed",
				"job", job.Name,
				"duration", time.Since(start),
				"error", err,
			)
			return
		}
		s.logger.Info("job completed",
			"job", job.Name,
			"duration", time.Since(start),
		)
	}()

	return job.Run(ctx)
}

// cronLogger routes cron internals through slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
