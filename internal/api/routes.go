package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/denoise-agent/internal/db"
	"github.com/heimdex/denoise-agent/internal/output"
	"github.com/heimdex/denoise-agent/internal/pipeline"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
	defaultLogsLimit = 200
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LoopbackGuard(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Store, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/profiles", listProfilesHandler(cfg))
		r.Put("/profiles/active", setProfileHandler(cfg))
		r.Post("/runs", startRunsHandler(cfg))
		r.Post("/runs/cancel", cancelRunsHandler(cfg))
		r.Get("/runs", listRunsHandler(cfg))
		r.Get("/runs/{id}", getRunHandler(cfg))
		r.Get("/runs/{id}/output", runOutputHandler(cfg))
		r.Head("/runs/{id}/output", runOutputHandler(cfg))
		r.Get("/logs", logsHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := cfg.Status.Snapshot()

		resp := StatusResponse{
			State:         string(snap.State),
			File:          snap.File,
			CorrelationID: snap.CorrelationID,
			Stage:         snap.Stage,
			Percent:       snap.Percent,
			Completed:     snap.Completed,
			BatchTotal:    snap.BatchTotal,
			LastStatus:    snap.Status,
			LastMessage:   snap.Message,
			LastElapsedMs: snap.Elapsed.Milliseconds(),
			Running:       cfg.Runner != nil && cfg.Runner.IsRunning(),
			Profile:       cfg.Profiles.Active().Name,
		}

		if cfg.Health != nil {
			h := cfg.Health.Get(r.Context())
			resp.Remote = &RemoteResponse{
				Healthy:   h.Healthy,
				CheckedAt: h.CheckedAt.Format(time.RFC3339),
			}
		}

		if cfg.Runner != nil {
			if id, res, ok := cfg.Runner.Last(); ok {
				resp.LastBatch = BatchToResponse(id, res)
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listProfilesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := cfg.Profiles.Active().Name
		names := cfg.Profiles.Names()

		resp := ProfilesResponse{Profiles: make([]ProfileResponse, 0, len(names))}
		for _, name := range names {
			p, err := cfg.Profiles.Get(name)
			if err != nil {
				cfg.Logger.Warn("skipping invalid profile", "profile", name, "error", err)
				continue
			}
			resp.Profiles = append(resp.Profiles, ProfileToResponse(p, active))
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func setProfileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Name == "" {
			WriteError(w, http.StatusBadRequest, "name is required", "BAD_REQUEST")
			return
		}
		if cfg.Runner != nil && cfg.Runner.IsRunning() {
			WriteError(w, http.StatusConflict, "cannot switch profile while a batch is running", "BUSY")
			return
		}

		p, err := cfg.Profiles.SetActive(req.Name)
		if err != nil {
			WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
			return
		}

		if err := cfg.Store.SetConfig(r.Context(), db.ConfigActiveProfile, p.Name); err != nil {
			cfg.Logger.Warn("failed to persist active profile", "profile", p.Name, "error", err)
		}

		WriteJSON(w, http.StatusOK, ProfileToResponse(p, p.Name))
	}
}

func startRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartRunsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		files := make([]string, 0, len(req.Files))
		for _, f := range req.Files {
			if f = strings.TrimSpace(f); f != "" {
				files = append(files, f)
			}
		}
		if len(files) == 0 {
			WriteError(w, http.StatusBadRequest, "files is required", "BAD_REQUEST")
			return
		}

		parent := cfg.BaseContext
		if parent == nil {
			parent = context.Background()
		}

		id, err := cfg.Runner.Start(parent, files)
		if errors.Is(err, pipeline.ErrBusy) {
			WriteError(w, http.StatusConflict, err.Error(), "BUSY")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, StartRunsResponse{BatchID: id, Files: len(files)})
	}
}

func cancelRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, CancelResponse{Canceled: cfg.Runner.Cancel()})
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRunsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxRunsLimit)
		}

		runs, err := cfg.Runs.ListRuns(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}
		total, succeeded, err := cfg.Runs.CountRuns(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(runs)), Total: total, Succeeded: succeeded}
		for i, rec := range runs {
			resp.Runs[i] = RunToResponse(rec)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := lookupRun(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, RunToResponse(rec))
	}
}

func runOutputHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := lookupRun(cfg, w, r)
		if !ok {
			return
		}
		if rec.OutputPath == "" {
			WriteError(w, http.StatusNotFound, "run has no downloaded output", "NOT_FOUND")
			return
		}

		err := cfg.Output.ServeFile(w, r, rec.OutputPath)
		switch {
		case errors.Is(err, output.ErrOutsideRoot):
			cfg.Logger.Warn("output path outside download root", "run_id", rec.ID)
			WriteError(w, http.StatusForbidden, "output is not servable", "FORBIDDEN")
		case err != nil:
			cfg.Logger.Error("output serve error", "run_id", rec.ID, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to serve output", "INTERNAL_ERROR")
		}
	}
}

func lookupRun(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*pipeline.RunRecord, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "run id required", "BAD_REQUEST")
		return nil, false
	}

	rec, err := cfg.Runs.GetRun(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load run", "INTERNAL_ERROR")
		return nil, false
	}
	if rec == nil {
		WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
		return nil, false
	}
	return rec, true
}

func logsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultLogsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}

		lines := cfg.Lines.Recent(limit)
		resp := LogsResponse{Lines: make([]LogLineResponse, len(lines))}
		for i, l := range lines {
			resp.Lines[i] = LineToResponse(l)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
