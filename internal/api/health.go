package api

import (
	"net/http"
	"time"
)

var processStart = time.Now()

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// handleHealthz reports process liveness. It deliberately does not touch the
// remote platform or the history store: a degraded upstream must not make the
// orchestrator itself look dead.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(processStart).Seconds()),
	})
}
