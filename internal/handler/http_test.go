package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cleanquest/progression/internal/achievement"
	"github.com/cleanquest/progression/internal/config"
	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/ledger"
	"github.com/cleanquest/progression/internal/memory"
	"github.com/cleanquest/progression/internal/points"
	"github.com/cleanquest/progression/internal/rank"
	"github.com/cleanquest/progression/internal/service"
	"github.com/cleanquest/progression/internal/websocket"
	"github.com/cleanquest/progression/internal/worker"
)

type fakeJobs struct {
	ran []string
}

func (f *fakeJobs) RunJob(_ context.Context, name string) error {
	if name != worker.JobLeaderboardRebuild {
		return fmt.Errorf("running %q: %w", name, domain.ErrUnknownJob)
	}
	f.ran = append(f.ran, name)
	return nil
}

func (f *fakeJobs) Jobs() []worker.JobInfo {
	return []worker.JobInfo{{Name: worker.JobLeaderboardRebuild, Spec: "0 * * * *"}}
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	handler http.Handler
	jobs    *fakeJobs
}

func newTestServer(t *testing.T, pinger Pinger) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.NewStore()
	now := func() time.Time { return time.Date(2026, 6, 15, 9, 30, 0, 0, time.UTC) }

	opts := points.DefaultOptions()
	calc := points.NewCalculator(st, st, points.NewComboTracker(st, st, opts, logger), opts, logger)
	calc.SetClock(now)
	progression := rank.NewProgression(st, rank.DefaultTable(), logger)
	l := ledger.New(st, st, progression, time.UTC, logger)
	l.SetClock(now)
	unlocker := achievement.NewUnlocker(st, st, l, logger)
	unlocker.SetClock(now)

	engine := service.NewEngine(st, st, calc, l, unlocker, progression, logger)
	engine.SetClock(now)
	if err := engine.SeedCatalog(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cfg := config.DefaultConfig()
	leaderboards := service.NewLeaderboardService(st, &cfg.Leaderboard, cfg.Scheduler.CacheSize, logger)

	if pinger == nil {
		pinger = st
	}
	jobs := &fakeJobs{}
	h := NewHandler(engine, leaderboards, jobs, pinger, websocket.NewHub(logger), logger)
	return &testServer{handler: h.Router(), jobs: jobs}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
	}
	return rec.Code, resp
}

func field(t *testing.T, data interface{}, key string) interface{} {
	t.Helper()
	m, ok := data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object, got %T", data)
	}
	return m[key]
}

func TestAwardFlow(t *testing.T) {
	s := newTestServer(t, nil)

	code, _ := s.do(t, http.MethodPost, "/api/v1/users", RegisterRequest{UserID: "u1", Username: "margaret"})
	if code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", code)
	}

	code, resp := s.do(t, http.MethodPost, "/api/v1/users/u1/reports", domain.ReportContext{
		ReportID:         "report-1",
		Size:             "Large",
		TrashType:        "Hazardous",
		Severity:         "high",
		HasAIDescription: true,
		Latitude:         51.5072,
		Longitude:        -0.1276,
	})
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("award: expected 200, got %d (%s)", code, resp.Error)
	}
	if got := field(t, resp.Data, "points_awarded"); got != float64(154) {
		t.Fatalf("expected 154 points, got %v", got)
	}
	if got := field(t, resp.Data, "total_points"); got != float64(179) {
		t.Fatalf("expected 179 total with reporter reward, got %v", got)
	}

	code, resp = s.do(t, http.MethodGet, "/api/v1/users/u1/progress", nil)
	if code != http.StatusOK || field(t, resp.Data, "next_rank") != "Green Helper" {
		t.Fatalf("progress: %d %+v", code, resp.Data)
	}

	code, resp = s.do(t, http.MethodGet, "/api/v1/users/u1/transactions?action_type=achievement", nil)
	if code != http.StatusOK {
		t.Fatalf("transactions: %d", code)
	}
	if txs, _ := resp.Data.([]interface{}); len(txs) != 1 {
		t.Fatalf("expected one achievement transaction, got %v", resp.Data)
	}

	code, resp = s.do(t, http.MethodGet, "/api/v1/users/u1/achievements", nil)
	if items, _ := resp.Data.([]interface{}); code != http.StatusOK || len(items) != len(domain.DefaultCatalog()) {
		t.Fatalf("achievements: %d %v", code, resp.Data)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"empty user id", http.MethodPost, "/api/v1/users", RegisterRequest{}, http.StatusBadRequest},
		{"unknown user award", http.MethodPost, "/api/v1/users/ghost/cleanups", domain.CleanupContext{Verified: true}, http.StatusNotFound},
		{"unknown user progress", http.MethodGet, "/api/v1/users/ghost/progress", nil, http.StatusNotFound},
		{"bad action filter", http.MethodGet, "/api/v1/users/ghost/transactions?action_type=gift", nil, http.StatusBadRequest},
		{"bad window", http.MethodGet, "/api/v1/leaderboards/daily/", nil, http.StatusBadRequest},
		{"total has no snapshots", http.MethodGet, "/api/v1/leaderboards/total/snapshots", nil, http.StatusBadRequest},
		{"unranked user", http.MethodGet, "/api/v1/leaderboards/total/users/ghost", nil, http.StatusNotFound},
		{"unknown job", http.MethodPost, "/api/v1/admin/jobs/nope/run", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := s.do(t, tt.method, tt.path, tt.body)
			if code != tt.want {
				t.Fatalf("expected %d, got %d (%s)", tt.want, code, resp.Error)
			}
			if resp.Success || resp.Error == "" {
				t.Fatalf("expected error body, got %+v", resp)
			}
		})
	}
}

func TestLeaderboardRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	for _, id := range []string{"u1", "u2"} {
		if code, _ := s.do(t, http.MethodPost, "/api/v1/users", RegisterRequest{UserID: id}); code != http.StatusCreated {
			t.Fatalf("register %s: %d", id, code)
		}
	}
	s.do(t, http.MethodPost, "/api/v1/users/u2/cleanups", domain.CleanupContext{
		VerificationConfidence: 0.9, Verified: true, TimeTakenSeconds: 600, Difficulty: "hard", Latitude: 48.85, Longitude: 2.35,
	})

	code, resp := s.do(t, http.MethodPost, "/api/v1/admin/leaderboard/rebuild", nil)
	if code != http.StatusOK || field(t, resp.Data, "entries") != float64(1) {
		t.Fatalf("rebuild: %d %+v", code, resp.Data)
	}

	code, resp = s.do(t, http.MethodGet, "/api/v1/leaderboards/total/?limit=10", nil)
	entries, _ := resp.Data.([]interface{})
	if code != http.StatusOK || len(entries) != 1 || field(t, entries[0], "user_id") != "u2" {
		t.Fatalf("leaderboard: %d %v", code, resp.Data)
	}

	code, resp = s.do(t, http.MethodGet, "/api/v1/leaderboards/weekly/users/u2", nil)
	if code != http.StatusOK || field(t, resp.Data, "position") != float64(1) {
		t.Fatalf("standing: %d %+v", code, resp.Data)
	}

	code, resp = s.do(t, http.MethodGet, "/api/v1/leaderboards/weekly/snapshots", nil)
	if items, _ := resp.Data.([]interface{}); code != http.StatusOK || len(items) != 0 {
		t.Fatalf("snapshots: %d %v", code, resp.Data)
	}
}

func TestAdminJobs(t *testing.T) {
	s := newTestServer(t, nil)

	code, resp := s.do(t, http.MethodGet, "/api/v1/admin/jobs", nil)
	if jobs, _ := resp.Data.([]interface{}); code != http.StatusOK || len(jobs) != 1 {
		t.Fatalf("jobs: %d %v", code, resp.Data)
	}

	code, _ = s.do(t, http.MethodPost, "/api/v1/admin/jobs/"+worker.JobLeaderboardRebuild+"/run", nil)
	if code != http.StatusOK || len(s.jobs.ran) != 1 {
		t.Fatalf("run: %d ran=%v", code, s.jobs.ran)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, nil)
	if code, _ := s.do(t, http.MethodGet, "/health", nil); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/ready", nil); code != http.StatusOK {
		t.Fatalf("ready: %d", code)
	}

	down := newTestServer(t, downStore{})
	if code, resp := down.do(t, http.MethodGet, "/ready", nil); code != http.StatusServiceUnavailable || resp.Success {
		t.Fatalf("expected 503 when the store is down, got %d", code)
	}

	code, resp := s.do(t, http.MethodGet, "/api/v1/ws/stats", nil)
	if code != http.StatusOK || field(t, resp.Data, "total_connections") != float64(0) {
		t.Fatalf("ws stats: %d %+v", code, resp.Data)
	}
}
