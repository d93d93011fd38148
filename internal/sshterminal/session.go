package sshterminal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/sshclient"
)

const (
	// DefaultConnectTimeout bounds a single connect attempt.
	DefaultConnectTimeout = 15 * time.Second

	// relayBufferSize is the read size for shell output.
	relayBufferSize = 32 * 1024

	// drainTimeout bounds how long a closing session waits for buffered shell
	// output before reporting the disconnect.
	drainTimeout = time.Second
)

// SessionOptions configures sessions created by a Registry.
type SessionOptions struct {
	Factory        sshclient.Factory
	ConnectTimeout time.Duration
	// ScrollbackSize is the scrollback limit in bytes; 0 means the default.
	ScrollbackSize int
	// RecordingDir enables session recording when non-empty.
	RecordingDir string
}

// Session owns a single remote connection and its interactive shell.
//
// Events are queued under the session lock in the same critical section as
// the state change that produced them, and a single dispatcher goroutine
// delivers them to subscribers in that order. The dispatcher exits after the
// one terminal event (disconnected or error), at which point Done is closed.
type Session struct {
	id     string
	params sshclient.ConnectionParams
	opts   SessionOptions

	Scrollback *ScrollbackBuffer
	// Recording is nil unless recording is enabled.
	Recording *SessionRecording

	mu           sync.Mutex
	state        SessionState
	transport    sshclient.Transport
	shell        sshclient.Shell
	shellOpening bool
	relayDone    chan struct{}
	connectDone  chan struct{}
	connectErr   error
	lastErr      error
	createdAt    time.Time
	connectedAt  time.Time
	transitions  transitionLog

	queue          []Event
	seq            uint64
	terminalQueued bool
	notify         chan struct{}
	listeners      []subscription
	nextSub        int
	done           chan struct{}

	writeMu    sync.Mutex
	finishOnce sync.Once
}

type subscription struct {
	id    int
	fn    Listener
	since uint64
}

func newSession(id string, params sshclient.ConnectionParams, opts SessionOptions) *Session {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	s := &Session{
		id:         id,
		params:     params.WithDefaults(),
		opts:       opts,
		Scrollback: NewScrollbackBuffer(opts.ScrollbackSize),
		createdAt:  time.Now(),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	if opts.RecordingDir != "" {
		s.Recording = NewSessionRecording(0)
	}
	go s.dispatch()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Params returns the connection parameters the session was created with.
func (s *Session) Params() sshclient.ConnectionParams { return s.params }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed after the terminal event has been delivered.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe registers l for every event emitted after this call. The
// returned function unsubscribes and is safe to call more than once.
func (s *Session) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeLocked(l)
}

// SubscribeWithScrollback returns the scrollback contents and subscribes l in
// one step: every byte of output is either in the snapshot or delivered to l
// as a data event, never both.
func (s *Session) SubscribeWithScrollback(l Listener) (snapshot []byte, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Scrollback.Snapshot(), s.subscribeLocked(l)
}

func (s *Session) subscribeLocked(l Listener) func() {
	id := s.nextSub
	s.nextSub++
	s.listeners = append(s.listeners, subscription{id: id, fn: l, since: s.seq})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.listeners {
				if sub.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// isTimeout reports whether a transport error is a deadline or i/o timeout.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

func (s *Session) setConnectTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.opts.ConnectTimeout = d
	s.mu.Unlock()
}

// Connect dials the remote host. It is a no-op once connected, joins an
// attempt already in flight, and fails with ErrSessionClosed after the
// session has ended. A failed attempt moves the session to StateError; there
// is no retry.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnected, StateShellActive:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		done := s.connectDone
		s.mu.Unlock()
		select {
		case <-done:
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.connectErr
		case <-ctx.Done():
			return ctx.Err()
		}
	case StateClosed, StateError:
		s.mu.Unlock()
		return ErrSessionClosed
	}

	t := s.opts.Factory(s.params)
	timeout := s.opts.ConnectTimeout
	s.transport = t
	s.connectDone = make(chan struct{})
	s.setStateLocked(StateConnecting, "connecting to "+s.params.Address())
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	err := t.Connect(cctx)
	timedOut := ctx.Err() == nil && (errors.Is(cctx.Err(), context.DeadlineExceeded) || isTimeout(err))
	cancel()

	s.mu.Lock()
	done := s.connectDone
	s.connectDone = nil

	if s.state != StateConnecting {
		// Disconnected while dialing.
		s.connectErr = ErrSessionClosed
		close(done)
		s.mu.Unlock()
		t.Close()
		return ErrSessionClosed
	}

	if err != nil {
		if timedOut {
			err = fmt.Errorf("%w after %s", ErrConnectTimeout, timeout)
		} else {
			err = &TransportError{Op: "connect", Err: err}
		}
		s.failLocked(err)
		s.connectErr = err
		close(done)
		s.mu.Unlock()
		t.Close()
		s.finish()
		log.Printf("[session-mgr] session %s connect failed: %v", s.id, err)
		return err
	}

	s.connectedAt = time.Now()
	s.connectErr = nil
	s.setStateLocked(StateConnected, "connected to "+s.params.Address())
	s.enqueueLocked(EventConnected, nil, "")
	close(done)
	s.mu.Unlock()

	go s.watch(t)
	log.Printf("[session-mgr] session %s connected to %s", s.id, s.params)
	return nil
}

// OpenShell starts an interactive PTY shell. It is only valid from
// StateConnected. A failure moves the session to StateError.
func (s *Session) OpenShell(ctx context.Context, cols, rows int) error {
	s.mu.Lock()
	if s.state == StateShellActive || s.shellOpening {
		s.mu.Unlock()
		return ErrShellAlreadyOpen
	}
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.shellOpening = true
	t := s.transport
	s.mu.Unlock()

	sh, err := t.OpenShell(ctx, cols, rows)

	s.mu.Lock()
	s.shellOpening = false
	if s.state != StateConnected {
		s.mu.Unlock()
		if sh != nil {
			sh.Close()
		}
		return ErrSessionClosed
	}
	if err != nil {
		err = &TransportError{Op: "open shell", Err: err}
		s.failLocked(err)
		s.mu.Unlock()
		t.Close()
		s.finish()
		log.Printf("[session-mgr] session %s shell failed: %v", s.id, err)
		return err
	}

	relayDone := make(chan struct{})
	s.shell = sh
	s.relayDone = relayDone
	s.setStateLocked(StateShellActive, fmt.Sprintf("shell opened (%dx%d)", cols, rows))
	s.mu.Unlock()
	if s.Recording != nil {
		s.Recording.RecordResize(cols, rows)
	}

	go s.relay(t, sh, relayDone)
	return nil
}

// Write sends input to the shell. Outside StateShellActive it does nothing.
func (s *Session) Write(p []byte) error {
	err := s.tryWrite(p)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// tryWrite is Write that reports ErrNotConnected instead of dropping input.
func (s *Session) tryWrite(p []byte) error {
	s.mu.Lock()
	sh := s.shell
	active := s.state == StateShellActive
	s.mu.Unlock()
	if !active || sh == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := sh.Write(p); err != nil {
		s.mu.Lock()
		ended := s.state != StateShellActive || s.shell != sh
		s.mu.Unlock()
		if ended {
			// Lost a race with Disconnect or a remote close.
			return ErrNotConnected
		}
		return &TransportError{Op: "write", Err: err}
	}
	if s.Recording != nil {
		s.Recording.RecordInput(p)
	}
	return nil
}

// Resize changes the PTY size. Outside StateShellActive it does nothing.
func (s *Session) Resize(cols, rows int) error {
	s.mu.Lock()
	sh := s.shell
	active := s.state == StateShellActive
	s.mu.Unlock()
	if !active || sh == nil {
		return nil
	}
	if err := sh.Resize(cols, rows); err != nil {
		return &TransportError{Op: "resize", Err: err}
	}
	if s.Recording != nil {
		s.Recording.RecordResize(cols, rows)
	}
	return nil
}

// Exec runs a one-off command over the session's connection.
func (s *Session) Exec(ctx context.Context, cmd string, stdin []byte) (*sshclient.ExecResult, error) {
	s.mu.Lock()
	t := s.transport
	ok := s.state == StateConnected || s.state == StateShellActive
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotConnected
	}
	res, err := t.Exec(ctx, cmd, stdin)
	if err != nil {
		return nil, &TransportError{Op: "exec", Err: err}
	}
	return res, nil
}

// Disconnect closes the session from any non-terminal state. It is
// synchronous and idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	t, sh := s.transport, s.shell
	s.shell = nil
	s.setStateLocked(StateClosed, "disconnect requested")
	s.enqueueLocked(EventDisconnected, nil, "")
	s.mu.Unlock()

	if sh != nil {
		sh.Close()
	}
	if t != nil {
		t.Close()
	}
	s.finish()
	log.Printf("[session-mgr] session %s disconnected", s.id)
}

// watch turns a transport close into the closed state.
func (s *Session) watch(t sshclient.Transport) {
	<-t.Done()

	s.mu.Lock()
	relayDone := s.relayDone
	s.mu.Unlock()
	if relayDone != nil {
		select {
		case <-relayDone:
		case <-time.After(drainTimeout):
		}
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	sh := s.shell
	s.shell = nil
	s.setStateLocked(StateClosed, "connection closed")
	s.enqueueLocked(EventDisconnected, nil, "")
	s.mu.Unlock()

	if sh != nil {
		sh.Close()
	}
	s.finish()
	log.Printf("[session-mgr] session %s connection closed by remote", s.id)
}

// relay copies shell output into data events until the shell ends, then
// closes the transport.
func (s *Session) relay(t sshclient.Transport, sh sshclient.Shell, done chan struct{}) {
	defer close(done)

	buf := make([]byte, relayBufferSize)
	for {
		n, err := sh.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			s.mu.Lock()
			live := s.state == StateShellActive && s.shell == sh
			if live {
				s.enqueueLocked(EventData, data, "")
				s.Scrollback.Write(data)
			}
			s.mu.Unlock()

			if live && s.Recording != nil {
				s.Recording.RecordOutput(data)
			}
		}
		if err != nil {
			break
		}
	}
	t.Close()
}

// Info is a point-in-time description of a session.
type Info struct {
	ID          string       `json:"sessionId"`
	Hostname    string       `json:"hostname"`
	Port        int          `json:"port"`
	Username    string       `json:"username"`
	AuthMethod  string       `json:"authMethod"`
	State       SessionState `json:"state"`
	CreatedAt   time.Time    `json:"createdAt"`
	ConnectedAt *time.Time   `json:"connectedAt,omitempty"`
	LastError   string       `json:"lastError,omitempty"`
}

// Info returns a snapshot of the session's metadata.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:         s.id,
		Hostname:   s.params.Hostname,
		Port:       s.params.Port,
		Username:   s.params.Username,
		AuthMethod: string(s.params.AuthMode),
		State:      s.state,
		CreatedAt:  s.createdAt,
	}
	if !s.connectedAt.IsZero() {
		t := s.connectedAt
		info.ConnectedAt = &t
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	return info
}

// Transitions returns recent state transitions, oldest first.
func (s *Session) Transitions() []StateTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitions.history()
}

func (s *Session) setStateLocked(to SessionState, reason string) {
	from := s.state
	s.state = to
	s.transitions.record(from, to, reason)
}

func (s *Session) failLocked(err error) {
	s.lastErr = err
	sh := s.shell
	s.shell = nil
	if sh != nil {
		go sh.Close()
	}
	s.setStateLocked(StateError, err.Error())
	s.enqueueLocked(EventError, nil, err.Error())
}

// enqueueLocked appends an event for the dispatcher. Nothing is queued after
// the terminal event.
func (s *Session) enqueueLocked(kind EventKind, data []byte, reason string) {
	if s.terminalQueued {
		return
	}
	s.seq++
	ev := Event{
		SessionID: s.id,
		Kind:      kind,
		Data:      data,
		Reason:    reason,
		Timestamp: time.Now(),
		seq:       s.seq,
	}
	s.queue = append(s.queue, ev)
	if ev.Terminal() {
		s.terminalQueued = true
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) dispatch() {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			s.mu.Lock()
			listeners := make([]Listener, 0, len(s.listeners))
			for _, sub := range s.listeners {
				if sub.since < ev.seq {
					listeners = append(listeners, sub.fn)
				}
			}
			s.mu.Unlock()

			for _, l := range listeners {
				l(ev)
			}
			if ev.Terminal() {
				return
			}
		}
		<-s.notify
	}
}

// finish releases per-session buffers once the session has ended.
func (s *Session) finish() {
	s.finishOnce.Do(func() {
		s.Scrollback.Close()
		if s.Recording != nil {
			if path, err := s.Recording.Save(s.opts.RecordingDir, s.id); err != nil {
				log.Printf("[session-mgr] session %s recording not saved: %v", s.id, err)
			} else {
				log.Printf("[session-mgr] session %s recording saved to %s", s.id, path)
			}
		}
	})
}
