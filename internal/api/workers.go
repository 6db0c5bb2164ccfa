package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tbracken/foundry/internal/model"
	"github.com/tbracken/foundry/internal/worker"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB

	maxWaitTimeout = 10 * time.Minute
)

// terminateAllResponse is the JSON response for POST /v1/workers/terminate.
type terminateAllResponse struct {
	Terminated []string `json:"terminated"`
	Count      int      `json:"count"`
}

type progressRequest struct {
	Progress float64 `json:"progress"`
}

func (s *Server) handleSpawnWorker(w http.ResponseWriter, r *http.Request) {
	var cfg model.SpawnConfig
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if cfg.Template.Kind == "" {
		cfg.Template = model.SelfTemplate()
	}
	if cfg.Deployment == "" {
		cfg.Deployment = model.DeploymentAny
	}

	id, err := s.manager.Spawn(r.Context(), cfg)
	if err != nil {
		status, msg := spawnErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("spawn worker", "error", err)
		}
		s.writeError(w, status, msg)
		return
	}

	info, _ := s.manager.Get(id)
	s.writeJSON(w, http.StatusCreated, info)
}

// spawnErrorStatus maps the spawn error taxonomy to HTTP status codes.
func spawnErrorStatus(err error) (int, string) {
	var (
		templateErr   *worker.TemplateNotAllowedError
		limitErr      *worker.LimitReachedError
		deploymentErr *worker.UnsupportedDeploymentError
		configErr     *worker.ConfigurationError
	)

	switch {
	case errors.Is(err, worker.ErrSpawnDisabled):
		return http.StatusForbidden, err.Error()
	case errors.As(err, &templateErr):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, worker.ErrInsufficientResources):
		return http.StatusTooManyRequests, err.Error()
	case errors.As(err, &limitErr):
		return http.StatusTooManyRequests, err.Error()
	case errors.As(err, &deploymentErr):
		return http.StatusNotImplemented, err.Error()
	case errors.As(err, &configErr):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "failed to spawn worker"
	}
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	var infos []worker.Info
	if r.URL.Query().Get("active") == "true" {
		infos = s.manager.Active()
	} else {
		infos = s.manager.List()
	}
	if infos == nil {
		infos = []worker.Info{}
	}
	s.writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	info, ok := s.manager.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "worker not found")
		return
	}

	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTerminateWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.manager.Terminate(id); err != nil {
		var notFound *worker.NotFoundError
		if errors.As(err, &notFound) {
			s.writeError(w, http.StatusNotFound, "worker not found")
			return
		}
		s.logger.Error("terminate worker", "worker_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to terminate worker")
		return
	}

	info, _ := s.manager.Get(id)
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTerminateAll(w http.ResponseWriter, _ *http.Request) {
	ids := s.manager.TerminateAll()
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, terminateAllResponse{Terminated: ids, Count: len(ids)})
}

func (s *Server) handleWaitWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The HTTP surface caps the wait well below the manager's one-hour
	// default; long-poll clients should re-issue the request.
	timeout := maxWaitTimeout
	if ms := parseIntQuery(r, "timeout_ms", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
		if timeout > maxWaitTimeout {
			timeout = maxWaitTimeout
		}
	}

	result, err := s.manager.WaitTimeout(r.Context(), id, timeout)
	if err != nil {
		var (
			notFound   *worker.NotFoundError
			failedErr  *worker.FailedError
			timeoutErr *worker.TimeoutError
		)
		switch {
		case errors.As(err, &notFound):
			s.writeError(w, http.StatusNotFound, "worker not found")
		case errors.As(err, &failedErr):
			s.writeError(w, http.StatusBadGateway, err.Error())
		case errors.As(err, &timeoutErr):
			s.writeError(w, http.StatusGatewayTimeout, err.Error())
		case errors.Is(err, worker.ErrNoResult):
			s.writeError(w, http.StatusNoContent, err.Error())
		default:
			s.logger.Error("wait for worker", "worker_id", id, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to wait for worker")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req progressRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.manager.UpdateProgress(id, req.Progress); err != nil {
		s.writeError(w, http.StatusNotFound, "worker not found")
		return
	}

	info, _ := s.manager.Get(id)
	s.writeJSON(w, http.StatusOK, info)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
