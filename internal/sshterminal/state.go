package sshterminal

import (
	"encoding/json"
	"time"
)

// SessionState is a Session's position in its lifecycle.
//
//	idle -> connecting -> connected -> shell-active -> closed
//
// StateError is terminal and reachable from every state except idle.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateConnected
	StateShellActive
	StateClosed
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateShellActive:
		return "shell-active"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == StateClosed || s == StateError
}

func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// transitionBufferSize is the number of state transitions kept per session.
const transitionBufferSize = 50

// StateTransition records one state change.
type StateTransition struct {
	From      SessionState `json:"from"`
	To        SessionState `json:"to"`
	Timestamp time.Time    `json:"timestamp"`
	Reason    string       `json:"reason"`
}

// transitionLog is a fixed-size ring of StateTransitions.
type transitionLog struct {
	entries [transitionBufferSize]StateTransition
	head    int
	count   int
}

func (l *transitionLog) record(from, to SessionState, reason string) {
	l.entries[l.head] = StateTransition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	l.head = (l.head + 1) % transitionBufferSize
	if l.count < transitionBufferSize {
		l.count++
	}
}

// history returns transitions oldest first.
func (l *transitionLog) history() []StateTransition {
	if l.count == 0 {
		return nil
	}
	result := make([]StateTransition, l.count)
	if l.count < transitionBufferSize {
		copy(result, l.entries[:l.count])
	} else {
		n := copy(result, l.entries[l.head:])
		copy(result[n:], l.entries[:l.head])
	}
	return result
}
