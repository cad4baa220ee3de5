// Package mirrorlog appends sync attempt records to a size-rotated text log.
//
// Rotation keeps a fixed number of numbered generations:
// mirror-sync.log -> mirror-sync.log.1 -> ... -> mirror-sync.log.N, with the
// oldest generation deleted when the chain is full. The same files back the
// read path used by `mirrorctl logs`.
package mirrorlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// FileName is the active log file inside the log directory.
	FileName = "mirror-sync.log"

	DefaultMaxSize    = 10 << 20 // 10 MiB
	DefaultMaxRotated = 3
)

// Logger writes one line per sync attempt, rotating by size.
type Logger struct {
	// Path of the active log file.
	Path string
	// MaxSize in bytes; reaching it triggers rotation before the next write.
	MaxSize int64
	// MaxRotated is the number of rotated generations to keep.
	MaxRotated int
	// Echo, when set, receives a copy of every line (daemon stdout).
	Echo io.Writer

	mu sync.Mutex
}

// New creates the log directory if needed and returns a logger with default
// rotation settings.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mirrorlog: create log dir: %w", err)
	}
	return &Logger{
		Path:       filepath.Join(dir, FileName),
		MaxSize:    DefaultMaxSize,
		MaxRotated: DefaultMaxRotated,
	}, nil
}

func (l *Logger) Info(format string, args ...any)    { l.write("INFO", format, args...) }
func (l *Logger) Success(format string, args ...any) { l.write("SUCCESS", format, args...) }
func (l *Logger) Warning(format string, args ...any) { l.write("WARNING", format, args...) }
func (l *Logger) Error(format string, args ...any)   { l.write("ERROR", format, args...) }

func (l *Logger) write(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rotateIfNeeded()

	line := fmt.Sprintf("[%s] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05"), level, fmt.Sprintf(format, args...))

	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err == nil {
		_, _ = f.WriteString(line)
		_ = f.Close()
	}
	if l.Echo != nil {
		_, _ = io.WriteString(l.Echo, line)
	}
}

func (l *Logger) rotateIfNeeded() {
	info, err := os.Stat(l.Path)
	if err != nil || info.Size() < l.MaxSize {
		return
	}
	l.rotate()
}

// rotate shifts .log.N-1 -> .log.N for each kept generation, drops the
// oldest, then moves the active file to .log.1.
func (l *Logger) rotate() {
	_ = os.Remove(fmt.Sprintf("%s.%d", l.Path, l.MaxRotated))
	for i := l.MaxRotated - 1; i >= 1; i-- {
		old := fmt.Sprintf("%s.%d", l.Path, i)
		if _, err := os.Stat(old); err == nil {
			_ = os.Rename(old, fmt.Sprintf("%s.%d", l.Path, i+1))
		}
	}
	_ = os.Rename(l.Path, l.Path+".1")
}

// Recent returns up to limit of the most recent log lines across the rotated
// generations and the active file, oldest first. A non-empty repoName keeps
// only lines mentioning that repository. limit <= 0 returns everything.
func (l *Logger) Recent(repoName string, limit int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lines []string
	for i := l.MaxRotated; i >= 1; i-- {
		lines = append(lines, readLines(fmt.Sprintf("%s.%d", l.Path, i))...)
	}
	lines = append(lines, readLines(l.Path)...)

	if repoName != "" {
		kept := lines[:0]
		for _, line := range lines {
			if strings.Contains(line, repoName) {
				kept = append(kept, line)
			}
		}
		lines = kept
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, nil
}

func readLines(path string) []string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(string(raw), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
