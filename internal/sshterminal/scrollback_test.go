package sshterminal

import (
	"strings"
	"sync"
	"testing"
)

func TestScrollbackBuffer_WriteSnapshot(t *testing.T) {
	sb := NewScrollbackBuffer(64)
	sb.Write([]byte("hello "))
	sb.Write([]byte("world"))

	if got := string(sb.Snapshot()); got != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
	if sb.Len() != 11 {
		t.Errorf("Len() = %d, want 11", sb.Len())
	}
}

func TestScrollbackBuffer_TrimsFront(t *testing.T) {
	sb := NewScrollbackBuffer(8)
	sb.Write([]byte("abcdef"))
	sb.Write([]byte("ghijkl"))

	if got := string(sb.Snapshot()); got != "efghijkl" {
		t.Errorf("got %q, want the last 8 bytes", got)
	}
}

func TestScrollbackBuffer_SingleOversizedWrite(t *testing.T) {
	sb := NewScrollbackBuffer(4)
	sb.Write([]byte(strings.Repeat("x", 10) + "tail"))

	if got := string(sb.Snapshot()); got != "tail" {
		t.Errorf("got %q, want %q", got, "tail")
	}
}

func TestScrollbackBuffer_DefaultSize(t *testing.T) {
	sb := NewScrollbackBuffer(0)
	if sb.maxLen != defaultScrollbackSize {
		t.Errorf("maxLen = %d, want %d", sb.maxLen, defaultScrollbackSize)
	}
}

func TestScrollbackBuffer_SnapshotIsCopy(t *testing.T) {
	sb := NewScrollbackBuffer(16)
	sb.Write([]byte("abc"))

	snap := sb.Snapshot()
	snap[0] = 'z'
	if got := string(sb.Snapshot()); got != "abc" {
		t.Errorf("snapshot mutation leaked into buffer: %q", got)
	}
}

func TestScrollbackBuffer_WriteAfterClose(t *testing.T) {
	sb := NewScrollbackBuffer(16)
	sb.Write([]byte("kept"))
	sb.Close()
	sb.Write([]byte("dropped"))

	if !sb.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
	if got := string(sb.Snapshot()); got != "kept" {
		t.Errorf("got %q after close, want %q", got, "kept")
	}
}

func TestScrollbackBuffer_ConcurrentWrites(t *testing.T) {
	sb := NewScrollbackBuffer(1024)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sb.Write([]byte("x"))
				sb.Snapshot()
			}
		}()
	}
	wg.Wait()

	if sb.Len() != 800 {
		t.Errorf("Len() = %d, want 800", sb.Len())
	}
}

func TestScrollbackBuffer_WrapsRepeatedly(t *testing.T) {
	sb := NewScrollbackBuffer(5)
	for _, chunk := range []string{"ab", "cd", "ef", "gh", "i"} {
		sb.Write([]byte(chunk))
	}
	if got := string(sb.Snapshot()); got != "efghi" {
		t.Errorf("got %q, want %q", got, "efghi")
	}
	sb.Write([]byte("jklmnop"))
	if got := string(sb.Snapshot()); got != "lmnop" {
		t.Errorf("after oversized write got %q, want %q", got, "lmnop")
	}
	sb.Write([]byte("q"))
	if got := string(sb.Snapshot()); got != "mnopq" {
		t.Errorf("got %q, want %q", got, "mnopq")
	}
}
