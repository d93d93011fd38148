package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/gluk-w/claworc/sshdeck/internal/sshclient"
	"github.com/gluk-w/claworc/sshdeck/internal/sshfiles"
	"github.com/gluk-w/claworc/sshdeck/internal/sshterminal"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps JSON request bodies. File writes travel inline, so this
// is larger than any terminal payload.
const maxBodyBytes = 32 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeFailure writes {success: false, error} with the status mapped from err.
func writeFailure(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func statusForError(err error) int {
	var te *sshterminal.TransportError
	var ce *sshfiles.CommandError
	switch {
	case errors.Is(err, sshclient.ErrInvalidParams),
		errors.Is(err, sshterminal.ErrInvalidSessionID),
		errors.Is(err, sshterminal.ErrInvalidDimensions),
		errors.Is(err, sshterminal.ErrInputTooLarge),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, sshfiles.ErrOutsideLocalDir):
		return http.StatusBadRequest
	case errors.Is(err, errLocalFilesDisabled):
		return http.StatusForbidden
	case errors.Is(err, sshterminal.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, sshterminal.ErrDuplicateSession),
		errors.Is(err, sshterminal.ErrNotConnected),
		errors.Is(err, sshterminal.ErrShellAlreadyOpen),
		errors.Is(err, sshterminal.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, sshterminal.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, sshterminal.ErrConnectTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &te), errors.As(err, &ce):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "Invalid request body",
		})
		return false
	}
	return true
}

// manager returns SessionMgr, writing a 503 when it is not set.
func manager(w http.ResponseWriter) (*sshterminal.SessionManager, bool) {
	if SessionMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return nil, false
	}
	return SessionMgr, true
}

// sessionFromRequest resolves the {id} URL parameter to a live session.
func sessionFromRequest(w http.ResponseWriter, r *http.Request) (*sshterminal.Session, bool) {
	m, ok := manager(w)
	if !ok {
		return nil, false
	}
	s, err := m.Session(chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return nil, false
	}
	return s, true
}
