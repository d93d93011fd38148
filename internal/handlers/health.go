package handlers

import (
	"net/http"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/database"
)

var startedAt = time.Now()

// HealthCheck reports database reachability plus a per-state session count.
// It answers 200 in both cases; "status" tells callers which.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":   "healthy",
		"database": "connected",
		"uptime":   time.Since(startedAt).Round(time.Second).String(),
	}
	if err := database.Ping(); err != nil {
		resp["status"] = "unhealthy"
		resp["database"] = "disconnected"
	}

	states := map[string]int{}
	total := 0
	if SessionMgr != nil {
		for _, info := range SessionMgr.Sessions() {
			states[info.State.String()]++
			total++
		}
	}
	resp["sessions"] = total
	resp["states"] = states

	writeJSON(w, http.StatusOK, resp)
}
