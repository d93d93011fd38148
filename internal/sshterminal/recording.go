package sshterminal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Recording event kinds, as used by asciicast v2.
const (
	recOutput = "o"
	recInput  = "i"
	recResize = "r"
)

// RecordingEntry is one timestamped event of a session recording.
type RecordingEntry struct {
	Elapsed float64 // seconds since the recording started
	Type    string
	Data    string
}

// MarshalJSON encodes the entry as an asciicast event line: [elapsed, type, data].
func (e RecordingEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Elapsed, e.Type, e.Data})
}

type castHeader struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// SessionRecording collects the shell traffic of one session and saves it
// as an asciicast v2 file that standard players can replay.
type SessionRecording struct {
	mu         sync.Mutex
	entries    []RecordingEntry
	started    time.Time
	cols, rows int
	limit      int
}

// NewSessionRecording starts an empty recording. limit caps the number of
// entries kept; later events are dropped. limit <= 0 means no cap.
func NewSessionRecording(limit int) *SessionRecording {
	return &SessionRecording{started: time.Now(), limit: limit}
}

// RecordOutput appends shell output.
func (r *SessionRecording) RecordOutput(data []byte) { r.add(recOutput, string(data)) }

// RecordInput appends input written to the shell.
func (r *SessionRecording) RecordInput(data []byte) { r.add(recInput, string(data)) }

// RecordResize notes a terminal size change. The first size seen becomes
// the header dimensions.
func (r *SessionRecording) RecordResize(cols, rows int) {
	r.mu.Lock()
	first := r.cols == 0 && r.rows == 0
	if first {
		r.cols, r.rows = cols, rows
	}
	r.mu.Unlock()
	if !first {
		r.add(recResize, strconv.Itoa(cols)+"x"+strconv.Itoa(rows))
	}
}

func (r *SessionRecording) add(kind, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && len(r.entries) >= r.limit {
		return
	}
	r.entries = append(r.entries, RecordingEntry{
		Elapsed: time.Since(r.started).Seconds(),
		Type:    kind,
		Data:    data,
	})
}

// Entries returns a copy of the recorded events.
func (r *SessionRecording) Entries() []RecordingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordingEntry(nil), r.entries...)
}

// EntryCount returns the number of recorded events.
func (r *SessionRecording) EntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// WriteTo writes the recording in asciicast v2 form: a header object
// followed by one JSON array per event, newline separated.
func (r *SessionRecording) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	hdr := castHeader{
		Version:   2,
		Width:     r.cols,
		Height:    r.rows,
		Timestamp: r.started.Unix(),
		Env:       map[string]string{"TERM": "xterm-256color"},
	}
	entries := append([]RecordingEntry(nil), r.entries...)
	r.mu.Unlock()

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	enc := json.NewEncoder(bw)
	if err := enc.Encode(hdr); err != nil {
		return cw.n, err
	}
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return cw.n, err
		}
	}
	err := bw.Flush()
	return cw.n, err
}

// Save writes the recording to dir as <sessionID>-<start unix>.cast and
// returns the file path. Only the base name of sessionID is used.
func (r *SessionRecording) Save(dir, sessionID string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create recording dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.cast", filepath.Base(sessionID), r.started.Unix()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create recording: %w", err)
	}
	if _, err := r.WriteTo(f); err != nil {
		f.Close()
		return "", fmt.Errorf("write recording: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write recording: %w", err)
	}
	return path, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
