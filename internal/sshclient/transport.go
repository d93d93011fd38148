package sshclient

import (
	"context"
	"io"
)

// Transport is one authenticated connection to a remote host.
//
// Connect may be called once. Close may be called at any time, from any
// goroutine, including while Connect is still dialing; it aborts the dial.
// Done is closed once the connection is gone, whether it was closed locally
// or lost remotely.
type Transport interface {
	Connect(ctx context.Context) error
	OpenShell(ctx context.Context, cols, rows int) (Shell, error)
	Exec(ctx context.Context, cmd string, stdin []byte) (*ExecResult, error)
	Done() <-chan struct{}
	Close() error
}

// Shell is an interactive PTY channel. Read returns remote output with
// stdout and stderr merged, and io.EOF once the remote side has exited.
type Shell interface {
	io.Reader
	io.Writer
	Resize(cols, rows int) error
	Close() error
}

// ExecResult is the outcome of a one-off remote command.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	Signal   string `json:"signal,omitempty"`
}

// Factory builds an unconnected Transport for the given parameters.
type Factory func(params ConnectionParams) Transport
