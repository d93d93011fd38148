package sshfiles

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/logutil"
	"github.com/gluk-w/claworc/sshdeck/internal/sshclient"
)

// Executor runs one command on a remote host. *sshterminal.Session and
// *sshclient.Client satisfy it.
type Executor interface {
	Exec(ctx context.Context, cmd string, stdin []byte) (*sshclient.ExecResult, error)
}

// Entry types reported by ListDirectory.
const (
	TypeDirectory = "directory"
	TypeFile      = "file"
	TypeParent    = "parent"
)

// writeChunkSize is the raw byte count per base64 append during WriteFile.
const writeChunkSize = 48000

// slowThreshold is the duration above which a command is logged as slow.
const slowThreshold = 500 * time.Millisecond

// FileEntry is one row of a remote directory listing.
type FileEntry struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
	Permissions string    `json:"permissions"`
	Owner       string    `json:"owner"`
	Group       string    `json:"group"`
}

// CommandError reports a remote command that exited non-zero.
type CommandError struct {
	Op       string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Op, e.ExitCode)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Stderr)
}

// run executes cmd and returns stdout. A non-zero exit is a *CommandError.
func run(ctx context.Context, ex Executor, op, cmd string, stdin []byte) (string, error) {
	start := time.Now()
	res, err := ex.Exec(ctx, cmd, stdin)
	elapsed := time.Since(start)

	if elapsed > slowThreshold {
		log.Printf("[sshfiles] SLOW command (%s): %s", elapsed, logutil.Truncate(cmd, 80))
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if res.ExitCode != 0 {
		return res.Stdout, &CommandError{Op: op, ExitCode: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr)}
	}
	return res.Stdout, nil
}

// ListDirectory lists a remote directory. Outside "/" the result starts with
// a ".." entry of type parent.
func ListDirectory(ctx context.Context, ex Executor, path string) ([]FileEntry, error) {
	start := time.Now()
	stdout, err := run(ctx, ex, "list directory",
		fmt.Sprintf("ls -la --color=never --time-style=long-iso %s", shellQuote(path)), nil)
	if err != nil {
		return nil, err
	}

	var entries []FileEntry
	if path != "/" {
		entries = append(entries, FileEntry{Name: "..", Type: TypeParent, Modified: time.Now()})
	}
	entries = append(entries, parseLsOutput(stdout)...)
	log.Printf("[sshfiles] ListDirectory %s completed in %s", logutil.SanitizeForLog(path), time.Since(start))
	return entries, nil
}

// parseLsOutput parses `ls -la --time-style=long-iso` output. The "total"
// line and the "." and ".." rows are skipped; symlink targets are trimmed.
func parseLsOutput(out string) []FileEntry {
	var entries []FileEntry
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		// perms links owner group size date time name...
		if len(fields) < 8 || fields[0] == "total" {
			continue
		}
		name := strings.Join(fields[7:], " ")
		if fields[0][0] == 'l' {
			if i := strings.Index(name, " -> "); i >= 0 {
				name = name[:i]
			}
		}
		if name == "." || name == ".." {
			continue
		}

		entry := FileEntry{
			Name:        name,
			Type:        TypeFile,
			Permissions: fields[0],
			Owner:       fields[2],
			Group:       fields[3],
		}
		if fields[0][0] == 'd' {
			entry.Type = TypeDirectory
		}
		entry.Size, _ = strconv.ParseInt(fields[4], 10, 64)
		entry.Modified, _ = time.Parse("2006-01-02 15:04", fields[5]+" "+fields[6])
		entries = append(entries, entry)
	}
	return entries
}

// ReadFile returns the contents of a remote file.
func ReadFile(ctx context.Context, ex Executor, path string) ([]byte, error) {
	start := time.Now()
	stdout, err := run(ctx, ex, "read file", fmt.Sprintf("cat %s", shellQuote(path)), nil)
	if err != nil {
		return nil, err
	}
	log.Printf("[sshfiles] ReadFile %s (%d bytes) completed in %s", logutil.SanitizeForLog(path), len(stdout), time.Since(start))
	return []byte(stdout), nil
}

// WriteFile replaces a remote file with data. The file is truncated first,
// then data is appended in base64 chunks so no command exceeds the shell's
// argument length limit.
func WriteFile(ctx context.Context, ex Executor, path string, data []byte) error {
	start := time.Now()
	if _, err := run(ctx, ex, "write file", fmt.Sprintf("> %s", shellQuote(path)), nil); err != nil {
		return err
	}
	for i := 0; i < len(data); i += writeChunkSize {
		end := min(i+writeChunkSize, len(data))
		b64 := base64.StdEncoding.EncodeToString(data[i:end])
		cmd := fmt.Sprintf("echo '%s' | base64 -d >> %s", b64, shellQuote(path))
		if _, err := run(ctx, ex, "write file", cmd, nil); err != nil {
			return err
		}
	}
	log.Printf("[sshfiles] WriteFile %s (%d bytes) completed in %s", logutil.SanitizeForLog(path), len(data), time.Since(start))
	return nil
}

// CreateDirectory creates a remote directory and any missing parents.
func CreateDirectory(ctx context.Context, ex Executor, path string) error {
	start := time.Now()
	if _, err := run(ctx, ex, "create directory", fmt.Sprintf("mkdir -p %s", shellQuote(path)), nil); err != nil {
		return err
	}
	log.Printf("[sshfiles] CreateDirectory %s completed in %s", logutil.SanitizeForLog(path), time.Since(start))
	return nil
}

// Upload copies localPath, taken inside local, to remotePath.
func Upload(ctx context.Context, ex Executor, local *LocalDir, localPath, remotePath string) error {
	data, err := local.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return WriteFile(ctx, ex, remotePath, data)
}

// Download copies remotePath to localPath inside local, creating missing
// directories.
func Download(ctx context.Context, ex Executor, remotePath string, local *LocalDir, localPath string) error {
	if _, err := local.Resolve(localPath); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	data, err := ReadFile(ctx, ex, remotePath)
	if err != nil {
		return err
	}
	if err := local.WriteFile(localPath, data); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	return nil
}

// shellQuote wraps a string in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
