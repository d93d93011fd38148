package sshaudit

import (
	"sync"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/sshterminal"
)

// SessionLookup resolves a session id to its current info.
type SessionLookup func(id string) (sshterminal.Info, bool)

// Recorder turns session lifecycle events into audit rows. Register Listen
// with the session manager.
type Recorder struct {
	auditor *Auditor
	lookup  SessionLookup

	mu       sync.Mutex
	sessions map[string]recorded
}

type recorded struct {
	info        sshterminal.Info
	connectedAt time.Time
}

// NewRecorder creates a recorder writing to a.
func NewRecorder(a *Auditor, lookup SessionLookup) *Recorder {
	return &Recorder{
		auditor:  a,
		lookup:   lookup,
		sessions: make(map[string]recorded),
	}
}

// Listen handles one event. Data events are ignored.
func (r *Recorder) Listen(ev sshterminal.Event) {
	switch ev.Kind {
	case sshterminal.EventConnected:
		info, _ := r.lookup(ev.SessionID)
		r.mu.Lock()
		r.sessions[ev.SessionID] = recorded{info: info, connectedAt: ev.Timestamp}
		r.mu.Unlock()
		r.auditor.Log(AuditEntry{
			SessionID: ev.SessionID,
			EventType: EventSessionConnected,
			Hostname:  info.Hostname,
			Username:  info.Username,
			Details:   "auth=" + info.AuthMethod,
		})

	case sshterminal.EventDisconnected, sshterminal.EventError:
		rec, ok := r.take(ev.SessionID)
		entry := AuditEntry{
			SessionID: ev.SessionID,
			EventType: EventSessionDisconnected,
			Hostname:  rec.info.Hostname,
			Username:  rec.info.Username,
		}
		if !ok {
			if info, found := r.lookup(ev.SessionID); found {
				entry.Hostname, entry.Username = info.Hostname, info.Username
			}
		} else {
			entry.DurationMs = ev.Timestamp.Sub(rec.connectedAt).Milliseconds()
		}
		if ev.Kind == sshterminal.EventError {
			entry.EventType = EventSessionError
			entry.Details = ev.Reason
		}
		r.auditor.Log(entry)
	}
}

func (r *Recorder) take(id string) (recorded, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	delete(r.sessions, id)
	return rec, ok
}
