package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/agent"
	domainerrors "github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
	"github.com/davidleathers/predictive-dialer-backend/internal/engine"
	"github.com/davidleathers/predictive-dialer-backend/internal/infrastructure/config"
	"github.com/davidleathers/predictive-dialer-backend/internal/infrastructure/repository"
	"github.com/davidleathers/predictive-dialer-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/disposition"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/reporting"
)

// adminServer is the operator surface: health, metrics, dashboard stats
// and campaign/agent control.
type adminServer struct {
	srv          *http.Server
	engine       *engine.Engine
	agents       *engine.AgentPool
	reports      reporting.Service
	dispositions disposition.Service
	pool         *repository.Pool
	redis        *redis.Client
	access       *slog.Logger
	logger       *zap.Logger
}

func newAdminServer(cfg config.ServerConfig, eng *engine.Engine, agents *engine.AgentPool, reports reporting.Service, dispositions disposition.Service, pool *repository.Pool, rdb *redis.Client, access *slog.Logger, logger *zap.Logger) *adminServer {
	a := &adminServer{
		engine:       eng,
		agents:       agents,
		reports:      reports,
		dispositions: dispositions,
		pool:         pool,
		redis:        rdb,
		access:       access,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", MetricsHandler())
	mux.HandleFunc("GET /stats", instrument("stats", a.handleStats))
	mux.HandleFunc("GET /calls", instrument("calls", a.handleActiveCalls))
	mux.HandleFunc("POST /campaigns/{id}/start", instrument("campaign_start", a.campaignAction(eng.StartCampaign)))
	mux.HandleFunc("POST /campaigns/{id}/stop", instrument("campaign_stop", a.campaignAction(eng.StopCampaign)))
	mux.HandleFunc("POST /campaigns/{id}/pause", instrument("campaign_pause", a.campaignAction(eng.PauseCampaign)))
	mux.HandleFunc("POST /campaigns/{id}/resume", instrument("campaign_resume", a.campaignAction(eng.ResumeCampaign)))
	mux.HandleFunc("POST /agents/{id}/presence", instrument("agent_presence", a.handleAgentPresence))
	mux.HandleFunc("POST /calls/{id}/disposition", instrument("call_disposition", a.handleCallDisposition))

	a.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      a.logRequests(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return a
}

// logRequests emits one access record per admin request through the
// trace-stamped slog handler. The metrics endpoint is exempt; Prometheus
// scrapes would drown the log.
func (a *adminServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.access == nil || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		telemetry.WithContext(r.Context(), a.access).Info("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func (a *adminServer) ListenAndServe() error {
	a.logger.Info("admin server listening", zap.String("addr", a.srv.Addr))
	if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *adminServer) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Warn("admin server shutdown", zap.Error(err))
	}
}

func (a *adminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "redis": "ok"}
	healthy := true

	if err := a.pool.Pgx().Ping(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if err := a.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"healthy": healthy, "checks": checks})
}

func (a *adminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.reports.Statistics(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *adminServer) handleActiveCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := a.reports.ActiveCalls(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

func (a *adminServer) campaignAction(action func(context.Context, uuid.UUID) (engine.ControlResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid campaign id"})
			return
		}
		result, err := action(r.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

type presenceRequest struct {
	LoggedIn bool   `json:"logged_in"`
	Status   string `json:"status"`
}

func (a *adminServer) handleAgentPresence(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid agent id"})
		return
	}

	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	status := agent.StatusOffline
	switch req.Status {
	case "available":
		status = agent.StatusAvailable
	case "offline":
		status = agent.StatusOffline
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be available or offline"})
		return
	}

	if err := a.agents.SetPresence(id, req.LoggedIn, status); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type dispositionRequest struct {
	CodeID uuid.UUID         `json:"code_id"`
	Fields map[string]string `json:"fields,omitempty"`
}

// handleCallDisposition is the agent-facing ingress for wrap-up codes on
// answered calls. System codes for unanswered outcomes never come through
// here; the engine applies those itself.
func (a *adminServer) handleCallDisposition(w http.ResponseWriter, r *http.Request) {
	callID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid call id"})
		return
	}

	var req dispositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.CodeID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code_id is required"})
		return
	}

	result, err := a.dispositions.Apply(r.Context(), callID, req.CodeID, req.Fields)
	if err != nil {
		writeJSON(w, dispositionStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func dispositionStatus(err error) int {
	switch {
	case domainerrors.IsType(err, domainerrors.ErrorTypeNotFound):
		return http.StatusNotFound
	case domainerrors.IsType(err, domainerrors.ErrorTypeConflict):
		return http.StatusConflict
	case domainerrors.IsType(err, domainerrors.ErrorTypeValidation):
		return http.StatusBadRequest
	case domainerrors.IsType(err, domainerrors.ErrorTypeBusiness):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
