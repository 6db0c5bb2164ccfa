package api

import "net/http"

type healthResponse struct {
	Status        string `json:"status"`
	ActiveWorkers int    `json:"active_workers"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		ActiveWorkers: s.manager.ActiveCount(),
	})
}
