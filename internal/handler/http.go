package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/service"
	"github.com/cleanquest/progression/internal/websocket"
	"github.com/cleanquest/progression/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// JobRunner exposes the scheduler's manual triggers
type JobRunner interface {
	RunJob(ctx context.Context, name string) error
	Jobs() []worker.JobInfo
}

// Pinger reports backing store health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the progression API
type Handler struct {
	engine       *service.Engine
	leaderboards *service.LeaderboardService
	jobs         JobRunner
	store        Pinger
	hub          *websocket.Hub
	logger       *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	engine *service.Engine,
	leaderboards *service.LeaderboardService,
	jobs JobRunner,
	store Pinger,
	hub *websocket.Hub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		engine:       engine,
		leaderboards: leaderboards,
		jobs:         jobs,
		store:        store,
		hub:          hub,
		logger:       logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// RegisterRequest creates a user aggregate
type RegisterRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/users", h.RegisterUser)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/reports", h.AwardReport)
			r.Post("/cleanups", h.AwardCleanup)
			r.Get("/progress", h.GetProgress)
			r.Get("/achievements", h.ListAchievements)
			r.Get("/transactions", h.ListTransactions)
		})

		r.Route("/leaderboards/{window}", func(r chi.Router) {
			r.Get("/", h.GetLeaderboard)
			r.Get("/users/{userID}", h.GetStanding)
			r.Get("/snapshots", h.ListSnapshots)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/leaderboard/rebuild", h.RebuildLeaderboard)
			r.Get("/jobs", h.ListJobs)
			r.Post("/jobs/{job}/run", h.RunJob)
		})

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeFailure maps a service error onto a status code
func (h *Handler) writeFailure(w http.ResponseWriter, err error, msg string, attrs ...any) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case domain.IsInvalid(err):
		h.writeError(w, http.StatusBadRequest, err)
	default:
		h.logger.Error(msg, append(attrs, "error", err)...)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// queryInt parses a positive integer query parameter, zero when absent
func queryInt(r *http.Request, key string) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.TotalConnections(),
		"active_topics":     h.hub.TopicCount(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once the store answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Error:   "store unavailable",
		})
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// RegisterUser creates a user aggregate if absent
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	user, err := h.engine.RegisterUser(r.Context(), req.UserID, req.Username)
	if err != nil {
		h.writeFailure(w, err, "failed to register user", "user_id", req.UserID)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    user,
	})
}

// AwardReport scores a trash report for the user
func (h *Handler) AwardReport(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var rc domain.ReportContext
	if err := json.NewDecoder(r.Body).Decode(&rc); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.engine.AwardReportPoints(r.Context(), userID, rc)
	if err != nil {
		h.writeFailure(w, err, "failed to award report points", "user_id", userID)
		return
	}

	h.writeSuccess(w, result)
}

// AwardCleanup scores a verified cleanup for the user
func (h *Handler) AwardCleanup(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var cc domain.CleanupContext
	if err := json.NewDecoder(r.Body).Decode(&cc); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.engine.AwardCleanupPoints(r.Context(), userID, cc)
	if err != nil {
		h.writeFailure(w, err, "failed to award cleanup points", "user_id", userID)
		return
	}

	h.writeSuccess(w, result)
}

// GetProgress returns the user's rank progress
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	snap, err := h.engine.GetProgressSnapshot(r.Context(), userID)
	if err != nil {
		h.writeFailure(w, err, "failed to get progress", "user_id", userID)
		return
	}

	h.writeSuccess(w, snap)
}

// ListAchievements returns the catalog with the user's progress
func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	items, err := h.engine.ListAchievements(r.Context(), userID)
	if err != nil {
		h.writeFailure(w, err, "failed to list achievements", "user_id", userID)
		return
	}

	h.writeSuccess(w, items)
}

// ListTransactions returns recent ledger rows, optionally filtered by
// action_type
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	actionType := domain.ActionType(r.URL.Query().Get("action_type"))

	txs, err := h.engine.ListTransactions(r.Context(), userID, queryInt(r, "limit"), actionType)
	if err != nil {
		h.writeFailure(w, err, "failed to list transactions", "user_id", userID)
		return
	}

	h.writeSuccess(w, txs)
}

// GetLeaderboard returns the top of a window
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	window, err := domain.ParseWindow(chi.URLParam(r, "window"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := h.leaderboards.GetLeaderboard(r.Context(), window, queryInt(r, "limit"))
	if err != nil {
		h.writeFailure(w, err, "failed to get leaderboard", "window", window)
		return
	}

	h.writeSuccess(w, entries)
}

// GetStanding returns a user's position in a window
func (h *Handler) GetStanding(w http.ResponseWriter, r *http.Request) {
	window, err := domain.ParseWindow(chi.URLParam(r, "window"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	userID := chi.URLParam(r, "userID")

	standing, err := h.leaderboards.GetStanding(r.Context(), window, userID)
	if err != nil {
		h.writeFailure(w, err, "failed to get standing", "window", window, "user_id", userID)
		return
	}

	h.writeSuccess(w, standing)
}

// ListSnapshots returns archived weekly or monthly tops
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	window, err := domain.ParseWindow(chi.URLParam(r, "window"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	snaps, err := h.leaderboards.ListSnapshots(r.Context(), window, queryInt(r, "limit"))
	if err != nil {
		h.writeFailure(w, err, "failed to list snapshots", "window", window)
		return
	}

	h.writeSuccess(w, snaps)
}

// RebuildLeaderboard rebuilds the cache on demand
func (h *Handler) RebuildLeaderboard(w http.ResponseWriter, r *http.Request) {
	n, err := h.leaderboards.Rebuild(r.Context())
	if err != nil {
		h.writeFailure(w, err, "failed to rebuild leaderboard")
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"status":  "rebuilt",
		"entries": n,
	})
}

// ListJobs returns the registered scheduler jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.jobs.Jobs())
}

// RunJob runs a scheduler job immediately
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")

	if err := h.jobs.RunJob(r.Context(), name); err != nil {
		h.writeFailure(w, err, "failed to run job", "job", name)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "completed", "job": name})
}
