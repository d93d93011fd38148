package handlers

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/logutil"
	"github.com/gluk-w/claworc/sshdeck/internal/sshaudit"
	"github.com/gluk-w/claworc/sshdeck/internal/sshclient"
	"github.com/gluk-w/claworc/sshdeck/internal/sshterminal"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SessionMgr is set from main.go during init.
var SessionMgr *sshterminal.SessionManager

type connectionRequest struct {
	Hostname       string `json:"hostname"`
	Port           int    `json:"port"`
	Username       string `json:"username"`
	AuthMethod     string `json:"authMethod"`
	Password       string `json:"password"`
	PrivateKey     string `json:"privateKey"`
	PrivateKeyPath string `json:"privateKeyPath"`
	Passphrase     string `json:"passphrase"`
}

// params builds connection parameters. A privateKeyPath is read through
// KeyDir and passed on as an inline key.
func (c connectionRequest) params() (sshclient.ConnectionParams, error) {
	p := sshclient.ConnectionParams{
		Hostname:   c.Hostname,
		Port:       c.Port,
		Username:   c.Username,
		AuthMode:   sshclient.AuthMode(c.AuthMethod),
		Password:   c.Password,
		PrivateKey: c.PrivateKey,
		Passphrase: c.Passphrase,
	}
	if c.PrivateKeyPath == "" || c.PrivateKey != "" {
		return p, nil
	}
	if KeyDir == nil {
		return p, errLocalFilesDisabled
	}
	key, err := KeyDir.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return p, fmt.Errorf("%w: private key: %v", sshclient.ErrInvalidParams, err)
	}
	p.PrivateKey = string(key)
	return p, nil
}

type createSessionRequest struct {
	connectionRequest
	SessionID        string `json:"sessionId"`
	Cols             int    `json:"cols"`
	Rows             int    `json:"rows"`
	ConnectTimeoutMs int    `json:"connectTimeoutMs"`
}

// CreateSession connects a new session and opens its shell. An empty
// sessionId gets a generated UUID.
func CreateSession(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w)
	if !ok {
		return
	}
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	params, err := req.params()
	if err != nil {
		writeFailure(w, err)
		return
	}

	s, err := m.CreateSession(r.Context(), id, params, sshterminal.CreateOptions{
		Cols:           req.Cols,
		Rows:           req.Rows,
		ConnectTimeout: time.Duration(req.ConnectTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		log.Printf("[session-mgr] create %s failed: %v", logutil.SanitizeForLog(id), err)
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"sessionId": s.ID(),
		"session":   s.Info(),
	})
}

func ListSessions(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": m.Sessions()})
}

func GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

// GetSessionEvents returns recent lifecycle events. History outlives the
// session, so ended ids still answer.
func GetSessionEvents(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w)
	if !ok {
		return
	}
	events := m.History(chi.URLParam(r, "id"))
	if events == nil {
		writeFailure(w, sshterminal.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func GetSessionTransitions(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transitions": s.Transitions()})
}

func WriteSession(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w)
	if !ok {
		return
	}
	var req struct {
		Data string `json:"data"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := m.Write(chi.URLParam(r, "id"), []byte(req.Data)); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w)
}

func ResizeSession(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w)
	if !ok {
		return
	}
	var req struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := m.Resize(chi.URLParam(r, "id"), req.Cols, req.Rows); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w)
}

// DeleteSession disconnects a session. Unknown ids succeed.
func DeleteSession(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w)
	if !ok {
		return
	}
	m.Disconnect(chi.URLParam(r, "id"))
	writeSuccess(w)
}

func ExecSession(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}
	var req struct {
		Command string `json:"command"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Command == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "command is required"})
		return
	}

	res, err := s.Exec(r.Context(), req.Command, nil)
	if err != nil {
		writeFailure(w, err)
		return
	}
	p := s.Params()
	sshaudit.LogCommand(s.ID(), p.Hostname, p.Username, sshaudit.ExtractSourceIP(r), req.Command, res.ExitCode)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"stdout":   res.Stdout,
		"stderr":   res.Stderr,
		"exitCode": res.ExitCode,
		"signal":   res.Signal,
	})
}

// Broadcast sends input to every shell-active session. A command gets a
// trailing newline; data is sent as is.
func Broadcast(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w)
	if !ok {
		return
	}
	var req struct {
		Command string `json:"command"`
		Data    string `json:"data"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	payload := req.Data
	if req.Command != "" {
		payload = req.Command + "\n"
	}
	if payload == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "command or data is required"})
		return
	}

	res, err := m.Broadcast(r.Context(), []byte(payload))
	if err != nil {
		writeFailure(w, err)
		return
	}
	sshaudit.LogBroadcast(sshaudit.ExtractSourceIP(r), len(payload), res.BroadcastedTo, res.TotalSessions)
	writeJSON(w, http.StatusOK, res)
}

// TestConnection dials and authenticates without creating a session.
func TestConnection(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w)
	if !ok {
		return
	}
	var req connectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	params, err := req.params()
	if err == nil {
		err = m.TestConnection(r.Context(), params)
	}
	result := "ok"
	if err != nil {
		result = err.Error()
	}
	sshaudit.LogConnectionTest(req.Hostname, req.Username, sshaudit.ExtractSourceIP(r), result)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w)
}
