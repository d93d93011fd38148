package logging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/gluk-w/claworc/sshdeck/internal/config"
)

// tailChunk is how much ReadTail reads per step backwards through the file.
const tailChunk = 32 * 1024

var (
	mu   sync.Mutex
	file *os.File
)

// Path is the file Init writes to: LOG_PATH, or sshdeck.log under DATA_PATH.
func Path() string {
	if config.Cfg.LogPath != "" {
		return config.Cfg.LogPath
	}
	return filepath.Join(config.Cfg.DataPath, "sshdeck.log")
}

// Init tees the standard logger into Path(). Failure to open the file
// leaves logging on stdout only. Call after config.Load.
func Init() {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("WARNING: log directory %s: %v", filepath.Dir(path), err)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("WARNING: log file %s: %v", path, err)
		return
	}

	mu.Lock()
	prev := file
	file = f
	mu.Unlock()
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	if prev != nil {
		prev.Close()
	}
	log.Printf("Logging to file: %s", path)
}

// ReadTail returns up to n trailing lines of the log file, joined by
// newlines. It reads backwards from the end so large files are not loaded
// whole. A missing file reads as empty.
func ReadTail(n int) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	f, err := os.Open(Path())
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat log file: %w", err)
	}

	var tail []byte
	for off := st.Size(); off > 0; {
		step := min(int64(tailChunk), off)
		off -= step
		chunk := make([]byte, step)
		if _, err := f.ReadAt(chunk, off); err != nil && err != io.EOF {
			return "", fmt.Errorf("read log file: %w", err)
		}
		tail = append(chunk, tail...)
		// n lines need n separators beyond a possible trailing one.
		if bytes.Count(tail, []byte{'\n'}) > n {
			break
		}
	}
	return lastLines(tail, n), nil
}

func lastLines(b []byte, n int) string {
	b = bytes.TrimRight(b, "\n")
	if n <= 0 || len(b) == 0 {
		return ""
	}
	end := len(b)
	for i := 0; i < n; i++ {
		j := bytes.LastIndexByte(b[:end], '\n')
		if j < 0 {
			return string(b)
		}
		if i == n-1 {
			return string(b[j+1:])
		}
		end = j
	}
	return string(b)
}

// Clear empties the log file. Later writes start again at offset zero.
func Clear() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return os.Truncate(Path(), 0)
	}
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("truncate log file: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek log file: %w", err)
	}
	return nil
}
