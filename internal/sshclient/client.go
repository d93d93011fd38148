package sshclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	// DefaultConnectTimeout bounds dial plus handshake.
	DefaultConnectTimeout = 15 * time.Second

	// DefaultKeepaliveInterval is how often keepalive requests are sent.
	DefaultKeepaliveInterval = 30 * time.Second

	termType = "xterm-256color"
)

// ErrClosed is returned by operations on a closed Client.
var ErrClosed = errors.New("ssh client closed")

// Options tune every Client created by a Factory.
type Options struct {
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	// HostKeyCallback defaults to accepting any host key.
	HostKeyCallback ssh.HostKeyCallback
}

// HostKeyCallback returns a known_hosts based callback for path, or one that
// accepts every host key when path is empty.
func HostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", path, err)
	}
	return cb, nil
}

// NewFactory returns a Factory producing SSH clients configured with opts.
func NewFactory(opts Options) Factory {
	return func(params ConnectionParams) Transport {
		return NewClient(params, opts)
	}
}

// Client is the golang.org/x/crypto/ssh implementation of Transport.
type Client struct {
	params ConnectionParams
	opts   Options

	mu       sync.Mutex
	dialing  net.Conn
	client   *ssh.Client
	started  bool
	closed   bool
	done     chan struct{}
	stopKeep context.CancelFunc
}

// NewClient creates an unconnected client.
func NewClient(params ConnectionParams, opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.HostKeyCallback == nil {
		opts.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return &Client{
		params: params.WithDefaults(),
		opts:   opts,
		done:   make(chan struct{}),
	}
}

// Connect dials and authenticates. It honors ctx cancellation during both the
// TCP dial and the SSH handshake.
func (c *Client) Connect(ctx context.Context) error {
	auth, err := c.params.authMethods()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("ssh client already connected")
	}
	c.started = true
	c.mu.Unlock()

	// The caller's deadline wins; Options.ConnectTimeout only bounds a ctx
	// without one.
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opts.ConnectTimeout)
	}

	addr := c.params.Address()
	cfg := &ssh.ClientConfig{
		User:            c.params.Username,
		Auth:            auth,
		HostKeyCallback: c.opts.HostKeyCallback,
		Timeout:         time.Until(deadline),
	}

	dialer := net.Dialer{Deadline: deadline}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, timeoutCause(err, deadline))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		netConn.Close()
		return ErrClosed
	}
	c.dialing = netConn
	c.mu.Unlock()

	// ssh.NewClientConn has no context parameter; closing the socket is the
	// only way to abort a handshake in progress.
	stop := context.AfterFunc(ctx, func() { netConn.Close() })
	netConn.SetDeadline(deadline)
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	aborted := !stop()
	if err != nil || aborted {
		netConn.Close()
		c.clearDialing()
		if aborted && ctx.Err() != nil {
			return fmt.Errorf("ssh handshake with %s: %w", addr, ctx.Err())
		}
		if c.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("ssh handshake with %s: %w", addr, timeoutCause(err, deadline))
	}
	netConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)

	c.mu.Lock()
	c.dialing = nil
	if c.closed {
		c.mu.Unlock()
		client.Close()
		return ErrClosed
	}
	keepCtx, keepCancel := context.WithCancel(context.Background())
	c.client = client
	c.stopKeep = keepCancel
	c.mu.Unlock()

	go c.keepalive(keepCtx, client)
	go func() {
		client.Wait()
		c.Close()
	}()

	log.Printf("[ssh] connected to %s", c.params)
	return nil
}

// timeoutCause reports err as context.DeadlineExceeded when it is an i/o
// timeout or deadline has passed, so callers can tell timeouts from
// refusals and auth failures.
func timeoutCause(err error, deadline time.Time) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if (errors.As(err, &ne) && ne.Timeout()) || !time.Now().Before(deadline) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (c *Client) clearDialing() {
	c.mu.Lock()
	c.dialing = nil
	c.mu.Unlock()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) sshClient() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.client == nil {
		return nil, errors.New("ssh client not connected")
	}
	return c.client, nil
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears down the connection or aborts a dial in progress. Safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client, dialing, stopKeep := c.client, c.dialing, c.stopKeep
	c.client, c.dialing = nil, nil
	close(c.done)
	c.mu.Unlock()

	if stopKeep != nil {
		stopKeep()
	}
	if dialing != nil {
		dialing.Close()
	}
	if client != nil {
		log.Printf("[ssh] disconnected from %s", c.params)
		return client.Close()
	}
	return nil
}

func (c *Client) keepalive(ctx context.Context, client *ssh.Client) {
	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				log.Printf("[ssh] keepalive failed for %s: %v, closing connection", c.params, err)
				c.Close()
				return
			}
		}
	}
}

// OpenShell requests a PTY of the given size and starts the login shell.
func (c *Client) OpenShell(ctx context.Context, cols, rows int) (Shell, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := c.sshClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(termType, rows, cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	pr, pw := io.Pipe()
	out := &lockedWriter{w: pw}
	session.Stdout = out
	session.Stderr = out

	if err := session.Shell(); err != nil {
		session.Close()
		pw.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	sh := &shell{session: session, stdin: stdin, out: pr}
	go func() {
		// Wait returns after the remote exits and both output copies drain.
		session.Wait()
		pw.Close()
	}()
	return sh, nil
}

// Exec runs cmd in a fresh channel and collects its output. A non-zero exit
// status is reported in the result, not as an error.
func (c *Client) Exec(ctx context.Context, cmd string, stdin []byte) (*ExecResult, error) {
	client, err := c.sshClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	if err := session.Start(cmd); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- session.Wait() }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		<-waitErr
		return nil, ctx.Err()
	case err = <-waitErr:
	}

	res := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitStatus()
			res.Signal = exitErr.Signal()
		case errors.As(err, &missing):
			res.ExitCode = -1
		default:
			return nil, fmt.Errorf("run command: %w", err)
		}
	}
	return res, nil
}

type shell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	out     *io.PipeReader

	closeOnce sync.Once
}

func (s *shell) Read(p []byte) (int, error) { return s.out.Read(p) }

func (s *shell) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *shell) Resize(cols, rows int) error {
	return s.session.WindowChange(rows, cols)
}

func (s *shell) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stdin.Close()
		err = s.session.Close()
		s.out.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
	})
	return err
}

// lockedWriter serializes the stdout and stderr copy goroutines onto one pipe.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
