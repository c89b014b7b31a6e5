package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/talentpipe/sentinel/engine"
	"github.com/talentpipe/sentinel/scheduler"
)

// Server exposes rule management, manual runs, event intake and the execution
// audit trail over HTTP. The db handle is only used by the health check; all
// domain traffic goes through the dispatcher.
type Server struct {
	db         *sql.DB
	dispatcher *engine.Dispatcher
	executions engine.ExecutionStore
	registry   *engine.Registry
	ticker     *scheduler.Ticker
	router     *chi.Mux
	logger     *slog.Logger
}

func NewServer(db *sql.DB, dispatcher *engine.Dispatcher, executions engine.ExecutionStore, registry *engine.Registry, ticker *scheduler.Ticker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:         db,
		dispatcher: dispatcher,
		executions: executions,
		registry:   registry,
		ticker:     ticker,
		logger:     logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/api/v1/health", s.handleHealth)

	// Entity types tracked by this deployment
	r.Get("/api/v1/entity-types", s.handleEntityTypes)

	// Rule management
	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Post("/preview", s.handlePreviewDraft)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
			r.Post("/preview", s.handlePreview)
			r.Post("/test-fire", s.handleTestFire)
			r.Get("/executions", s.handleListExecutions)
		})
	})

	// Manual scheduled pass
	r.Post("/api/v1/run", s.handleRun)

	// Event and signal intake from the application
	r.Post("/api/v1/events", s.handleEvent)
	r.Post("/api/v1/signals/{signalName}", s.handleSignal)

	// Execution audit trail
	r.Get("/api/v1/executions/stale", s.handleStaleExecutions)
	r.Get("/api/v1/executions/{executionId}", s.handleGetExecution)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	body := map[string]any{
		"status":      "healthy",
		"entityTypes": len(s.registry.Types()),
	}
	if s.ticker != nil {
		lastTick, ticks := s.ticker.LastTick()
		body["scheduledPasses"] = ticks
		if !lastTick.IsZero() {
			body["lastPassAt"] = lastTick
		}
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleEntityTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"entityTypes": s.registry.Types(),
	})
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule("rule-" + uuid.New().String())
	if err := s.dispatcher.AddRule(rule); err != nil {
		respondError(w, statusFor(err, http.StatusBadRequest), "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

// List rules handler. Returns the active rule set the dispatcher evaluates.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.dispatcher.ListActiveRules()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if rules == nil {
		rules = []*engine.Rule{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
	})
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	rule, err := s.dispatcher.GetRule(ruleID)
	if err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule(ruleID)
	if err := s.dispatcher.UpdateRule(rule); err != nil {
		respondError(w, statusFor(err, http.StatusBadRequest), "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	if err := s.dispatcher.DeleteRule(ruleID); err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Preview handler for stored rules
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := s.dispatcher.GetRule(ruleID)
	if err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "rule not found", err)
		return
	}

	result, err := s.dispatcher.Preview(r.Context(), rule, req.Sample)
	if err != nil {
		respondError(w, statusFor(err, http.StatusBadRequest), "preview failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Preview handler for rule drafts that are not stored yet
func (s *Server) handlePreviewDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rule   ruleRequest    `json:"rule"`
		Sample map[string]any `json:"sample"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.Rule.toRule("rule-draft")
	result, err := s.dispatcher.Preview(r.Context(), rule, req.Sample)
	if err != nil {
		respondError(w, statusFor(err, http.StatusBadRequest), "preview failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Test-fire handler: full execution path, cooldown bypassed, marked as test
func (s *Server) handleTestFire(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req testFireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.TriggeredBy == "" {
		respondError(w, http.StatusBadRequest, "triggeredBy is required", nil)
		return
	}

	exec, err := s.dispatcher.TestFire(r.Context(), ruleID, req.EntityID, req.TriggeredBy)
	if err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "test fire failed", err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

// List executions handler
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := parsePositiveInt(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		limit = parsed
	}

	execs, err := s.executions.ListByRule(r.Context(), ruleID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list executions", err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := execs[:0]
		for _, exec := range execs {
			if exec.Status == engine.ExecutionStatus(status) {
				filtered = append(filtered, exec)
			}
		}
		execs = filtered
	}
	if execs == nil {
		execs = []*engine.Execution{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"executions": execs,
	})
}

// Get execution handler
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionId")

	exec, err := s.executions.Get(r.Context(), executionID)
	if err != nil {
		respondError(w, statusFor(err, http.StatusInternalServerError), "execution not found", err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

// Stale executions handler: runs interrupted mid-flight, for the ops surface
func (s *Server) handleStaleExecutions(w http.ResponseWriter, r *http.Request) {
	olderThan := time.Hour
	if raw := r.URL.Query().Get("olderThan"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid olderThan duration", err)
			return
		}
		olderThan = parsed
	}

	stale, err := s.executions.StaleRunning(r.Context(), olderThan)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list stale executions", err)
		return
	}
	if stale == nil {
		stale = []*engine.Execution{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"executions": stale,
		"olderThan":  olderThan.String(),
	})
}

// Manual run handler: one scheduled pass, outside the ticker cadence
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	started := time.Now()

	summary, err := s.dispatcher.RunScheduled(r.Context(), now)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "scheduled pass failed", err)
		return
	}

	respondJSON(w, http.StatusOK, runResponse{
		Summary: summary,
		Elapsed: time.Since(started).String(),
		AsOf:    now,
	})
}

// Event intake handler
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	switch req.TriggerKind {
	case engine.TriggerModelCreated, engine.TriggerModelUpdated, engine.TriggerStatusChanged:
	default:
		respondError(w, http.StatusBadRequest, "triggerKind must be model_created, model_updated or status_changed", nil)
		return
	}
	if req.EntityType == "" || req.EntityID == "" {
		respondError(w, http.StatusBadRequest, "entityType and entityId are required", nil)
		return
	}

	rec := s.eventRecord(r, &req)
	if err := s.dispatcher.RunOnEvent(r.Context(), req.TriggerKind, req.EntityType, rec, req.OldValues, req.NewValues); err != nil {
		respondError(w, http.StatusInternalServerError, "event processing failed", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// eventRecord loads the entity's current state when the type is registered;
// otherwise the event payload itself is the record.
func (s *Server) eventRecord(r *http.Request, req *eventRequest) engine.Record {
	if accessor, err := s.registry.Accessor(req.EntityType); err == nil {
		if rec, err := accessor.Get(r.Context(), req.EntityID); err == nil {
			return rec
		}
	}
	return &engine.MapRecord{RecordID: req.EntityID, Values: req.NewValues}
}

// Signal intake handler
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	signalName := chi.URLParam(r, "signalName")

	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := s.dispatcher.RunOnSignal(r.Context(), signalName, req.Payload); err != nil {
		respondError(w, http.StatusInternalServerError, "signal processing failed", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

// statusFor maps engine error kinds onto HTTP statuses
func statusFor(err error, fallback int) int {
	switch engine.KindOf(err) {
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindType:
		return http.StatusBadRequest
	case engine.KindPermission:
		return http.StatusForbidden
	default:
		return fallback
	}
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be a positive integer")
	}
	return n, nil
}
