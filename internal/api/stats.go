package api

import (
	"net/http"

	"github.com/tbracken/foundry/internal/store"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	ActiveWorkers int            `json:"active_workers"`
	Total         int            `json:"total"`
	ByState       map[string]int `json:"by_state"`
	ByTaskType    map[string]int `json:"by_task_type"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// listHistoryResponse wraps the paginated history response.
type listHistoryResponse struct {
	Workers []*store.WorkerRecord `json:"workers"`
	Total   int                   `json:"total"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.history.Stats(r.Context())
	if err != nil {
		s.logger.Error("get worker stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		ActiveWorkers: s.manager.ActiveCount(),
		Total:         stats.Total,
		ByState:       stats.CountByState,
		ByTaskType:    stats.CountByTaskType,
		AvgDurationMS: stats.AvgDurationMS,
	})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	records, total, err := s.history.ListWorkers(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list worker history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	if records == nil {
		records = []*store.WorkerRecord{}
	}

	s.writeJSON(w, http.StatusOK, listHistoryResponse{
		Workers: records,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}
