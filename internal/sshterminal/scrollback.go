package sshterminal

import "sync"

// defaultScrollbackSize is the scrollback limit when none is configured (1 MiB).
const defaultScrollbackSize = 1024 * 1024

// ScrollbackBuffer keeps the most recent maxLen bytes of a session's shell
// output so a terminal attaching late can be brought up to date. Storage
// grows until it reaches maxLen and is then reused as a ring.
type ScrollbackBuffer struct {
	mu     sync.Mutex
	buf    []byte
	start  int // oldest byte once len(buf) == maxLen
	maxLen int
	closed bool
}

// NewScrollbackBuffer creates a buffer holding at most maxLen bytes.
// If maxLen <= 0, defaultScrollbackSize is used.
func NewScrollbackBuffer(maxLen int) *ScrollbackBuffer {
	if maxLen <= 0 {
		maxLen = defaultScrollbackSize
	}
	return &ScrollbackBuffer{maxLen: maxLen}
}

// Write appends p, overwriting the oldest output when full. Writes after
// Close are dropped.
func (s *ScrollbackBuffer) Write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(p) == 0 {
		return
	}

	if len(p) >= s.maxLen {
		if cap(s.buf) < s.maxLen {
			s.buf = make([]byte, s.maxLen)
		}
		s.buf = s.buf[:s.maxLen]
		copy(s.buf, p[len(p)-s.maxLen:])
		s.start = 0
		return
	}

	if room := s.maxLen - len(s.buf); room > 0 {
		n := min(room, len(p))
		s.buf = append(s.buf, p[:n]...)
		p = p[n:]
	}
	for len(p) > 0 {
		n := copy(s.buf[s.start:], p)
		p = p[n:]
		s.start = (s.start + n) % s.maxLen
	}
}

// Close stops further writes. The contents stay readable.
func (s *ScrollbackBuffer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Snapshot returns a copy of the buffered output, oldest byte first.
func (s *ScrollbackBuffer) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, 0, len(s.buf))
	out = append(out, s.buf[s.start:]...)
	return append(out, s.buf[:s.start]...)
}

// Len returns the number of buffered bytes.
func (s *ScrollbackBuffer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// IsClosed reports whether Close has been called.
func (s *ScrollbackBuffer) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
