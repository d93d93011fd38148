package sshterminal

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/sshclient"
)

func TestManager_CreateSessionLifecycle(t *testing.T) {
	n := newFakeNetwork()
	ft := n.preset("host1")
	m := newTestManager(t, n)
	events := newEventLog()
	m.Subscribe(events.listener)

	s, err := m.CreateSession(context.Background(), "s1", testParams("host1"), CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.State() != StateShellActive {
		t.Fatalf("expected shell-active, got %s", s.State())
	}
	events.waitFor(t, "s1", EventConnected)

	if err := m.Write("s1", []byte("ls\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := ft.currentShell().input(); got != "ls\n" {
		t.Errorf("shell received %q", got)
	}

	// Remote hangs up.
	ft.Close()
	events.waitFor(t, "s1", EventDisconnected)
	waitDone(t, s)

	if _, err := m.Session("s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after disconnect, got %v", err)
	}
	if got := events.kinds("s1"); !reflect.DeepEqual(got, []string{"connected", "disconnected"}) {
		t.Errorf("unexpected events %v", got)
	}
}

func TestManager_DefaultDimensions(t *testing.T) {
	n := newFakeNetwork()
	ft := n.preset("h")
	m := newTestManager(t, n)

	if _, err := m.CreateSession(context.Background(), "s1", testParams("h"), CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	sh := ft.currentShell()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if len(sh.resizes) == 0 || sh.resizes[0] != "80x24" {
		t.Errorf("expected default 80x24 PTY, got %v", sh.resizes)
	}
}

func TestManager_ConcurrentCreateSameID(t *testing.T) {
	n := newFakeNetwork()
	m := newTestManager(t, n)

	const attempts = 8
	var (
		wg             sync.WaitGroup
		mu             sync.Mutex
		ok, duplicates int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CreateSession(context.Background(), "dup", testParams("h"), CreateOptions{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrDuplicateSession):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || duplicates != attempts-1 {
		t.Errorf("expected 1 success and %d duplicates, got %d / %d", attempts-1, ok, duplicates)
	}
	if got := len(n.transports()); got != 1 {
		t.Errorf("expected a single transport, got %d", got)
	}
}

func TestManager_FailedCreateLeavesNoEntry(t *testing.T) {
	n := newFakeNetwork()
	n.preset("down").connectErr = errors.New("connection refused")
	m := newTestManager(t, n)
	events := newEventLog()
	m.Subscribe(events.listener)

	_, err := m.CreateSession(context.Background(), "s1", testParams("down"), CreateOptions{})
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "connect" {
		t.Fatalf("expected connect TransportError, got %v", err)
	}
	if _, err := m.Session("s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("failed session still registered")
	}
	ev := events.waitFor(t, "s1", EventError)
	if ev.Reason == "" {
		t.Error("error event without reason")
	}

	// The id is free for a new attempt.
	if _, err := m.CreateSession(context.Background(), "s1", testParams("up"), CreateOptions{}); err != nil {
		t.Errorf("re-create after failure: %v", err)
	}
}

func TestManager_ShellFailureLeavesNoEntry(t *testing.T) {
	n := newFakeNetwork()
	n.preset("noshell").shellErr = errors.New("pty denied")
	m := newTestManager(t, n)

	_, err := m.CreateSession(context.Background(), "s1", testParams("noshell"), CreateOptions{})
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "open shell" {
		t.Fatalf("expected open shell TransportError, got %v", err)
	}
	if m.Registry().Len() != 0 {
		t.Error("failed session still registered")
	}
}

func TestManager_ConnectTimeoutOverride(t *testing.T) {
	n := newFakeNetwork()
	n.preset("slow").connectBlock = make(chan struct{})
	m := newTestManager(t, n)

	start := time.Now()
	_, err := m.CreateSession(context.Background(), "s1", testParams("slow"), CreateOptions{ConnectTimeout: 50 * time.Millisecond})
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("expected ErrConnectTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("per-session timeout override ignored")
	}
	if m.Registry().Len() != 0 {
		t.Error("timed-out session still registered")
	}
}

func TestManager_Validation(t *testing.T) {
	m := newTestManager(t, newFakeNetwork())
	ctx := context.Background()

	bad := testParams("h")
	bad.Username = ""
	if _, err := m.CreateSession(ctx, "s1", bad, CreateOptions{}); !errors.Is(err, sshclient.ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
	if _, err := m.CreateSession(ctx, "", testParams("h"), CreateOptions{}); !errors.Is(err, ErrInvalidSessionID) {
		t.Errorf("expected ErrInvalidSessionID, got %v", err)
	}
	if _, err := m.CreateSession(ctx, "s1", testParams("h"), CreateOptions{Cols: 1000, Rows: 24}); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("expected ErrInvalidDimensions, got %v", err)
	}
	if m.Registry().Len() != 0 {
		t.Error("validation failure left a registry entry")
	}
}

func TestManager_UnknownSession(t *testing.T) {
	m := newTestManager(t, newFakeNetwork())

	if err := m.Write("nope", []byte("x")); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Write: expected ErrSessionNotFound, got %v", err)
	}
	if err := m.Resize("nope", 80, 24); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Resize: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := m.Exec(context.Background(), "nope", "ls"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Exec: expected ErrSessionNotFound, got %v", err)
	}
	m.Disconnect("nope")
}

func TestManager_InputLimits(t *testing.T) {
	n := newFakeNetwork()
	m := newTestManager(t, n)
	m.CreateSession(context.Background(), "s1", testParams("h"), CreateOptions{})

	if err := m.Write("s1", make([]byte, MaxInputMessageSize+1)); !errors.Is(err, ErrInputTooLarge) {
		t.Errorf("expected ErrInputTooLarge, got %v", err)
	}
	if err := m.Resize("s1", 0, 24); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("expected ErrInvalidDimensions, got %v", err)
	}
	if err := m.Resize("s1", MaxTermCols, MaxTermRows); err != nil {
		t.Errorf("max dimensions rejected: %v", err)
	}
}

func TestManager_DisconnectRemoves(t *testing.T) {
	n := newFakeNetwork()
	m := newTestManager(t, n)
	s, _ := m.CreateSession(context.Background(), "s1", testParams("h"), CreateOptions{})

	m.Disconnect("s1")
	m.Disconnect("s1")
	waitDone(t, s)

	if len(m.Sessions()) != 0 {
		t.Error("session listed after Disconnect")
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}
}

func TestManager_SessionsInfo(t *testing.T) {
	n := newFakeNetwork()
	m := newTestManager(t, n)
	m.CreateSession(context.Background(), "b", testParams("hb"), CreateOptions{})
	m.CreateSession(context.Background(), "a", testParams("ha"), CreateOptions{})

	infos := m.Sessions()
	if len(infos) != 2 || infos[0].ID != "a" || infos[1].ID != "b" {
		t.Fatalf("unexpected sessions %+v", infos)
	}
	if infos[0].State != StateShellActive || infos[0].Port != 22 || infos[0].ConnectedAt == nil {
		t.Errorf("unexpected info %+v", infos[0])
	}
}

func TestManager_Exec(t *testing.T) {
	m := newTestManager(t, newFakeNetwork())
	m.CreateSession(context.Background(), "s1", testParams("h"), CreateOptions{})

	res, err := m.Exec(context.Background(), "s1", "uname -a")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if res.Stdout != "ran:uname -a" {
		t.Errorf("unexpected stdout %q", res.Stdout)
	}
}

func TestManager_History(t *testing.T) {
	n := newFakeNetwork()
	m := newTestManager(t, n)
	s, _ := m.CreateSession(context.Background(), "s1", testParams("h"), CreateOptions{})
	m.Disconnect("s1")
	waitDone(t, s)

	var kinds []EventKind
	for _, ev := range m.History("s1") {
		kinds = append(kinds, ev.Kind)
	}
	if !reflect.DeepEqual(kinds, []EventKind{EventConnected, EventDisconnected}) {
		t.Errorf("unexpected history %v", kinds)
	}
}

func TestManager_TestConnection(t *testing.T) {
	n := newFakeNetwork()
	n.preset("down").connectErr = errors.New("no route to host")
	n.preset("slow").connectBlock = make(chan struct{})
	m := NewSessionManager(ManagerConfig{Factory: n.factory, TestConnectionTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	if err := m.TestConnection(ctx, testParams("up")); err != nil {
		t.Errorf("reachable host: %v", err)
	}
	var te *TransportError
	if err := m.TestConnection(ctx, testParams("down")); !errors.As(err, &te) {
		t.Errorf("expected TransportError, got %v", err)
	}
	if err := m.TestConnection(ctx, testParams("slow")); !errors.Is(err, ErrConnectTimeout) {
		t.Errorf("expected ErrConnectTimeout, got %v", err)
	}
	for _, ft := range n.transports() {
		if !ft.isClosed() {
			t.Errorf("transport for %s left open", ft.params.Hostname)
		}
	}
	if m.Registry().Len() != 0 {
		t.Error("TestConnection registered a session")
	}
}

func TestManager_Shutdown(t *testing.T) {
	n := newFakeNetwork()
	m := NewSessionManager(ManagerConfig{Factory: n.factory})
	events := newEventLog()
	m.Subscribe(events.listener)

	var sessions []*Session
	for _, id := range []string{"a", "b", "c"} {
		s, err := m.CreateSession(context.Background(), id, testParams("h"), CreateOptions{})
		if err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		sessions = append(sessions, s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	for _, s := range sessions {
		if s.State() != StateClosed {
			t.Errorf("%s: expected closed, got %s", s.ID(), s.State())
		}
		if got := events.kinds(s.ID()); len(got) == 0 || got[len(got)-1] != "disconnected" {
			t.Errorf("%s: missing disconnected event, got %v", s.ID(), got)
		}
	}
	if m.Registry().Len() != 0 {
		t.Error("registry not empty after shutdown")
	}
}
