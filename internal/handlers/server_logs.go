package handlers

import (
	"net/http"
	"strconv"

	"github.com/gluk-w/claworc/sshdeck/internal/logging"
)

const (
	defaultLogLines = 200
	maxLogLines     = 10000
)

// GetServerLogs returns the tail of the server log. ?lines= is capped at
// maxLogLines.
func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := defaultLogLines
	if q := r.URL.Query().Get("lines"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid lines")
			return
		}
		lines = min(n, maxLogLines)
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read server logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  content,
		"lines": lines,
	})
}

func ClearServerLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear server logs")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
