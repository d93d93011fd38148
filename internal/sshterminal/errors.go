package sshterminal

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSessionID  = errors.New("session id is required")
	ErrDuplicateSession  = errors.New("session already exists")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotConnected      = errors.New("session not connected")
	ErrShellAlreadyOpen  = errors.New("shell already open")
	ErrSessionClosed     = errors.New("session closed")
	ErrConnectTimeout    = errors.New("connect timed out")
	ErrInputTooLarge     = errors.New("input too large")
	ErrInvalidDimensions = errors.New("invalid terminal dimensions")
	ErrRateLimited       = errors.New("connection rate limited")
)

// TransportError wraps a failure reported by the underlying connection
// (authentication, network, channel setup).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
