package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/sshaudit"
)

// GetAuditLogs queries the audit trail.
//
// Query parameters: session_id, event_type, username, since and until
// (RFC 3339), limit, offset.
func GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	auditor := sshaudit.GetAuditor()
	if auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit logging not initialized")
		return
	}

	q := r.URL.Query()
	opts := sshaudit.QueryOptions{
		SessionID: q.Get("session_id"),
		EventType: q.Get("event_type"),
		Username:  q.Get("username"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since timestamp")
			return
		}
		opts.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until timestamp")
			return
		}
		opts.Until = &t
	}

	result, err := auditor.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PurgeAuditLogs deletes entries older than ?days=, defaulting to the
// configured retention.
func PurgeAuditLogs(w http.ResponseWriter, r *http.Request) {
	auditor := sshaudit.GetAuditor()
	if auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit logging not initialized")
		return
	}

	days := auditor.RetentionDays()
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid days")
			return
		}
		days = n
	}

	deleted, err := auditor.PurgeOlderThan(days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to purge audit logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
		"days":    days,
	})
}
