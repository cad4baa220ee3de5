// Package syncer runs a single mirror's fetch-and-prune under a timeout.
package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Status classifies one sync attempt. Timeout is kept separate from failure:
// a timeout usually means a transient network condition, a failure usually
// means a permanent remote error.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Outcome is the result of one sync attempt. Per-repository failures are
// data, not process-level errors.
type Outcome struct {
	Status   Status
	Duration time.Duration
	Err      string
}

// Fetcher is the capability the executor needs from the underlying version
// control client. Tests substitute a fake; production uses GitFetcher.
type Fetcher interface {
	Fetch(ctx context.Context, repoPath string) error
}

// GitFetcher shells out to git for the actual network transfer. Ref update
// atomicity on partial fetches is git's own guarantee.
type GitFetcher struct {
	GitPath string
	// NicePath, when non-empty, wraps the fetch in nice -n 19 so mirror
	// traffic never starves foreground serving work.
	NicePath string
}

// NewGitFetcher resolves git and nice from PATH. A missing nice is fine; the
// fetch then runs at normal priority.
func NewGitFetcher() *GitFetcher {
	f := &GitFetcher{GitPath: "git"}
	if nice, err := exec.LookPath("nice"); err == nil {
		f.NicePath = nice
	}
	return f
}

func (f *GitFetcher) Fetch(ctx context.Context, repoPath string) error {
	argv := []string{f.GitPath, "-C", repoPath, "remote", "update", "--prune"}
	if f.NicePath != "" {
		argv = append([]string{f.NicePath, "-n", "19"}, argv...)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return fmt.Errorf("git remote update: %v: %s", err, msg)
		}
		return fmt.Errorf("git remote update: %v", err)
	}
	return nil
}

// Executor locates repositories under RepoRoot and syncs them through the
// configured Fetcher.
type Executor struct {
	RepoRoot string
	Fetcher  Fetcher
}

// RepoPath returns the bare repository directory for name.
func (e *Executor) RepoPath(name string) string {
	return filepath.Join(e.RepoRoot, name+".git")
}

// RepoExists reports whether the repository directory for name exists. The
// directory is the source of truth for repository existence.
func (e *Executor) RepoExists(name string) bool {
	info, err := os.Stat(e.RepoPath(name))
	return err == nil && info.IsDir()
}

// Sync fetches one repository under a hard wall-clock timeout. The timeout
// edge is inclusive: an attempt that takes exactly the timeout is classified
// as timeout, never success. On failure or timeout the repository keeps the
// refs of the last successful fetch.
func (e *Executor) Sync(ctx context.Context, name string, timeout time.Duration) Outcome {
	path := e.RepoPath(name)
	if !e.RepoExists(name) {
		return Outcome{
			Status: StatusFailed,
			Err:    fmt.Sprintf("repository path does not exist: %s", path),
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := e.Fetcher.Fetch(fetchCtx, path)
	duration := time.Since(start)

	switch {
	case errors.Is(fetchCtx.Err(), context.DeadlineExceeded) || duration >= timeout:
		return Outcome{
			Status:   StatusTimeout,
			Duration: duration,
			Err:      fmt.Sprintf("timeout after %ds", int(timeout.Seconds())),
		}
	case err != nil:
		return Outcome{Status: StatusFailed, Duration: duration, Err: err.Error()}
	default:
		return Outcome{Status: StatusSuccess, Duration: duration}
	}
}
