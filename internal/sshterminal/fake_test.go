package sshterminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/sshclient"
)

var errFakeClosed = errors.New("fake transport closed")

// fakeTransport is an in-memory sshclient.Transport.
type fakeTransport struct {
	params sshclient.ConnectionParams

	connectErr   error
	connectBlock chan struct{} // when set, Connect waits for it
	shellErr     error
	writeErr     error

	mu       sync.Mutex
	connects int
	shell    *fakeShell
	done     chan struct{}
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan struct{})}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	block := f.connectBlock
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return errFakeClosed
		}
	}
	if f.isClosed() {
		return errFakeClosed
	}
	return f.connectErr
}

func (f *fakeTransport) OpenShell(ctx context.Context, cols, rows int) (sshclient.Shell, error) {
	if f.shellErr != nil {
		return nil, f.shellErr
	}
	pr, pw := io.Pipe()
	sh := &fakeShell{out: pr, in: pw, writeErr: f.writeErr}
	sh.resizes = append(sh.resizes, fmt.Sprintf("%dx%d", cols, rows))
	f.mu.Lock()
	f.shell = sh
	f.mu.Unlock()
	return sh, nil
}

func (f *fakeTransport) Exec(ctx context.Context, cmd string, stdin []byte) (*sshclient.ExecResult, error) {
	return &sshclient.ExecResult{Stdout: "ran:" + cmd}, nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
		if f.shell != nil {
			f.shell.in.Close()
		}
	}
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) currentShell() *fakeShell {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shell
}

// fakeShell records input and lets tests inject output.
type fakeShell struct {
	out         *io.PipeReader
	in          *io.PipeWriter
	writeErr    error
	beforeWrite func() // runs at the start of every Write

	mu      sync.Mutex
	written bytes.Buffer
	writes  int
	resizes []string
	closed  bool
}

func (s *fakeShell) Read(p []byte) (int, error) { return s.out.Read(p) }

func (s *fakeShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	hook := s.beforeWrite
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.writes++
	return s.written.Write(p)
}

func (s *fakeShell) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resizes = append(s.resizes, fmt.Sprintf("%dx%d", cols, rows))
	return nil
}

func (s *fakeShell) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.in.Close()
	return nil
}

func (s *fakeShell) setBeforeWrite(fn func()) {
	s.mu.Lock()
	s.beforeWrite = fn
	s.mu.Unlock()
}

// emit pushes remote output; it returns once the relay has read it.
func (s *fakeShell) emit(data string) {
	s.in.Write([]byte(data))
}

// exit simulates the remote shell ending.
func (s *fakeShell) exit() { s.in.Close() }

func (s *fakeShell) input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

func (s *fakeShell) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// fakeNetwork hands out fakeTransports keyed by hostname. Hosts without a
// preset get a fresh transport that connects successfully.
type fakeNetwork struct {
	mu      sync.Mutex
	presets map[string]*fakeTransport
	created []*fakeTransport
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{presets: make(map[string]*fakeTransport)}
}

func (n *fakeNetwork) preset(host string) *fakeTransport {
	t := newFakeTransport()
	n.mu.Lock()
	n.presets[host] = t
	n.mu.Unlock()
	return t
}

func (n *fakeNetwork) factory(params sshclient.ConnectionParams) sshclient.Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.presets[params.Hostname]
	if ok {
		delete(n.presets, params.Hostname)
	} else {
		t = newFakeTransport()
	}
	t.params = params
	n.created = append(n.created, t)
	return t
}

func (n *fakeNetwork) transports() []*fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*fakeTransport(nil), n.created...)
}

func testParams(host string) sshclient.ConnectionParams {
	return sshclient.ConnectionParams{
		Hostname: host,
		Username: "root",
		AuthMode: sshclient.AuthPassword,
		Password: "secret",
	}
}

func newTestManager(t *testing.T, n *fakeNetwork) *SessionManager {
	t.Helper()
	m := NewSessionManager(ManagerConfig{
		Factory:        n.factory,
		ConnectTimeout: 2 * time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m
}

// eventLog collects events delivered to a listener.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{signal: make(chan struct{}, 1)}
}

func (l *eventLog) listener(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) kinds(sessionID string) []string {
	var kinds []string
	for _, ev := range l.all() {
		if ev.SessionID != sessionID {
			continue
		}
		if ev.Kind == EventData {
			kinds = append(kinds, "data:"+string(ev.Data))
		} else {
			kinds = append(kinds, string(ev.Kind))
		}
	}
	return kinds
}

// waitFor blocks until an event of kind for sessionID has been seen.
func (l *eventLog) waitFor(t *testing.T, sessionID string, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		for _, ev := range l.all() {
			if ev.SessionID == sessionID && ev.Kind == kind {
				return ev
			}
		}
		select {
		case <-l.signal:
		case <-deadline:
			t.Fatalf("timeout waiting for %s event on %s, got %v", kind, sessionID, l.kinds(sessionID))
		}
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session %s did not finish", s.ID())
	}
}

func waitState(t *testing.T, s *Session, want SessionState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("session %s: state %s, want %s", s.ID(), s.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
