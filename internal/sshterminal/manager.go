package sshterminal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/logutil"
	"github.com/gluk-w/claworc/sshdeck/internal/sshclient"
)

// DefaultTestConnectionTimeout bounds TestConnection.
const DefaultTestConnectionTimeout = 10 * time.Second

// ManagerConfig configures a SessionManager.
type ManagerConfig struct {
	Factory               sshclient.Factory
	ConnectTimeout        time.Duration
	TestConnectionTimeout time.Duration
	ScrollbackSize        int
	RecordingDir          string
	BroadcastConcurrency  int
	// ConnectLimiter, when set, guards CreateSession and TestConnection.
	ConnectLimiter *ConnectLimiter
}

// CreateOptions are per-session overrides for CreateSession.
type CreateOptions struct {
	Cols, Rows     int
	ConnectTimeout time.Duration
}

// SessionManager is the entry point for the calling layer. It ties together
// the registry, the event bridge and the broadcaster.
type SessionManager struct {
	cfg         ManagerConfig
	registry    *Registry
	bridge      *EventBridge
	broadcaster *Broadcaster
}

// NewSessionManager creates a manager with an empty registry.
func NewSessionManager(cfg ManagerConfig) *SessionManager {
	if cfg.TestConnectionTimeout <= 0 {
		cfg.TestConnectionTimeout = DefaultTestConnectionTimeout
	}
	registry := NewRegistry(SessionOptions{
		Factory:        cfg.Factory,
		ConnectTimeout: cfg.ConnectTimeout,
		ScrollbackSize: cfg.ScrollbackSize,
		RecordingDir:   cfg.RecordingDir,
	})
	return &SessionManager{
		cfg:         cfg,
		registry:    registry,
		bridge:      NewEventBridge(registry),
		broadcaster: NewBroadcaster(registry, cfg.BroadcastConcurrency),
	}
}

// Registry exposes the underlying registry.
func (m *SessionManager) Registry() *Registry { return m.registry }

// CreateSession registers id, connects and opens a shell. On any failure the
// session is torn down and no registry entry remains.
func (m *SessionManager) CreateSession(ctx context.Context, id string, params sshclient.ConnectionParams, opts CreateOptions) (*Session, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	cols, rows := opts.Cols, opts.Rows
	if cols == 0 && rows == 0 {
		cols, rows = DefaultCols, DefaultRows
	}
	if err := ValidateDimensions(cols, rows); err != nil {
		return nil, err
	}

	s, err := m.registry.Create(id, params)
	if err != nil {
		return nil, err
	}
	// Only attempts that would dial spend connect budget.
	if err := m.allowConnect(params); err != nil {
		m.discard(s)
		return nil, err
	}
	s.setConnectTimeout(opts.ConnectTimeout)
	m.bridge.Attach(s)

	log.Printf("[session-mgr] creating session %s for %s", logutil.SanitizeForLog(id), logutil.SanitizeForLog(s.Params().String()))

	err = s.Connect(ctx)
	m.recordConnect(params, err)
	if err != nil {
		m.discard(s)
		return nil, err
	}
	if err := s.OpenShell(ctx, cols, rows); err != nil {
		m.discard(s)
		return nil, err
	}
	return s, nil
}

func connectTarget(p sshclient.ConnectionParams) string {
	return p.WithDefaults().Username + "@" + p.Address()
}

func (m *SessionManager) allowConnect(p sshclient.ConnectionParams) error {
	if m.cfg.ConnectLimiter == nil {
		return nil
	}
	return m.cfg.ConnectLimiter.Allow(connectTarget(p))
}

// recordConnect feeds a connect outcome to the limiter. Only transport
// failures and timeouts count against the target.
func (m *SessionManager) recordConnect(p sshclient.ConnectionParams, err error) {
	if m.cfg.ConnectLimiter == nil {
		return
	}
	var te *TransportError
	switch {
	case err == nil:
		m.cfg.ConnectLimiter.RecordSuccess(connectTarget(p))
	case errors.As(err, &te), errors.Is(err, ErrConnectTimeout):
		m.cfg.ConnectLimiter.RecordFailure(connectTarget(p))
	}
}

func (m *SessionManager) discard(s *Session) {
	s.Disconnect()
	m.registry.removeSession(s)
}

// Session looks up a live session.
func (m *SessionManager) Session(id string) (*Session, error) {
	s, ok := m.registry.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Sessions returns info for every live session, sorted by id.
func (m *SessionManager) Sessions() []Info {
	list := m.registry.List()
	infos := make([]Info, len(list))
	for i, s := range list {
		infos[i] = s.Info()
	}
	return infos
}

// Write sends input to one session.
func (m *SessionManager) Write(id string, p []byte) error {
	if err := ValidateInput(p); err != nil {
		return err
	}
	s, err := m.Session(id)
	if err != nil {
		return err
	}
	return s.Write(p)
}

// Resize changes one session's terminal size.
func (m *SessionManager) Resize(id string, cols, rows int) error {
	if err := ValidateDimensions(cols, rows); err != nil {
		return err
	}
	s, err := m.Session(id)
	if err != nil {
		return err
	}
	return s.Resize(cols, rows)
}

// Disconnect closes and removes a session. Unknown ids are ignored.
func (m *SessionManager) Disconnect(id string) {
	s, ok := m.registry.Get(id)
	if !ok {
		return
	}
	s.Disconnect()
	m.registry.removeSession(s)
}

// Broadcast writes p to every shell-active session.
func (m *SessionManager) Broadcast(ctx context.Context, p []byte) (*BroadcastResult, error) {
	if err := ValidateInput(p); err != nil {
		return nil, err
	}
	res := m.broadcaster.Broadcast(ctx, p)
	log.Printf("[broadcast] delivered to %d of %d sessions", res.BroadcastedTo, res.TotalSessions)
	return res, nil
}

// Exec runs a one-off command on a session's connection.
func (m *SessionManager) Exec(ctx context.Context, id, cmd string) (*sshclient.ExecResult, error) {
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	return s.Exec(ctx, cmd, nil)
}

// TestConnection dials params and closes the connection straight away.
func (m *SessionManager) TestConnection(ctx context.Context, params sshclient.ConnectionParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if err := m.allowConnect(params); err != nil {
		return err
	}
	err := m.testConnection(ctx, params)
	m.recordConnect(params, err)
	return err
}

func (m *SessionManager) testConnection(ctx context.Context, params sshclient.ConnectionParams) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.TestConnectionTimeout)
	defer cancel()

	t := m.cfg.Factory(params.WithDefaults())
	defer t.Close()
	if err := t.Connect(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("%w after %s", ErrConnectTimeout, m.cfg.TestConnectionTimeout)
		}
		return &TransportError{Op: "connect", Err: err}
	}
	return nil
}

// Subscribe registers l for events from every session.
func (m *SessionManager) Subscribe(l Listener) (cancel func()) {
	return m.bridge.Subscribe(l)
}

// History returns recent lifecycle events for a session id.
func (m *SessionManager) History(id string) []Event {
	return m.bridge.History(id)
}

// Shutdown disconnects every session and waits, until ctx is done, for their
// terminal events to be delivered.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	closed := m.registry.CloseAll()
	for _, s := range closed {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	log.Printf("[session-mgr] shut down %d sessions", len(closed))
	return nil
}
