// Package control implements the mirror management operations invoked by the
// CLI: enable, disable, list, status, manual sync, and log retrieval. Each
// operation is a short-lived invocation doing its own load/mutate/save cycle
// against the schedule store.
package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gitmirror/mirrorlog"
	"gitmirror/recorder"
	"gitmirror/schedule"
	"gitmirror/store"
	"gitmirror/syncer"
)

var (
	// ErrUnknownRepository means no <name>.git directory exists under the
	// repository root.
	ErrUnknownRepository = errors.New("unknown repository")
	// ErrUnknownMirror means the repository exists but has no mirror record.
	ErrUnknownMirror = errors.New("repository is not configured as a mirror")
)

// Surface exposes the mirror control operations.
type Surface struct {
	store    *store.Store
	executor *syncer.Executor
	recorder *recorder.Recorder
	log      *mirrorlog.Logger
}

func New(st *store.Store, ex *syncer.Executor, rec *recorder.Recorder, log *mirrorlog.Logger) *Surface {
	return &Surface{store: st, executor: ex, recorder: rec, log: log}
}

// Entry pairs a mirror record with its repository name for listing.
type Entry struct {
	Name   string
	Mirror *store.Mirror
}

// Enable turns on mirroring for name. An empty schedule or non-positive
// timeout takes the store defaults. The schedule is validated before
// anything is persisted; on validation failure the store is untouched.
// Re-enabling an existing mirror updates schedule and timeout and keeps its
// history.
func (c *Surface) Enable(name, scheduleExpr string, timeoutSeconds int) (*store.Mirror, error) {
	if !c.executor.RepoExists(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRepository, name)
	}

	var enabled *store.Mirror
	_, err := c.store.Update(func(doc *store.Document) error {
		expr := scheduleExpr
		if expr == "" {
			expr = doc.Defaults.Schedule
		}
		if err := schedule.Validate(expr); err != nil {
			return err
		}
		timeout := timeoutSeconds
		if timeout <= 0 {
			timeout = doc.Defaults.TimeoutSeconds
		}

		m, ok := doc.Mirrors[name]
		if !ok {
			m = &store.Mirror{LastStatus: store.StatusNever}
			doc.Mirrors[name] = m
		}
		m.Enabled = true
		m.Schedule = expr
		m.TimeoutSeconds = timeout
		if next, err := schedule.NextOccurrence(expr, time.Now().UTC()); err == nil {
			m.NextRunAt = &next
		}
		enabled = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return enabled, nil
}

// Disable turns off mirroring for name. The record and its sync history are
// retained; only the enabled flag flips.
func (c *Surface) Disable(name string) (*store.Mirror, error) {
	var disabled *store.Mirror
	_, err := c.store.Update(func(doc *store.Document) error {
		m, ok := doc.Mirrors[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMirror, name)
		}
		m.Enabled = false
		disabled = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return disabled, nil
}

// Remove deletes the mirror record entirely. Meant for repository deletion,
// where keeping history for a repository that no longer exists has no value;
// plain disable keeps the record.
func (c *Surface) Remove(name string) error {
	_, err := c.store.Update(func(doc *store.Document) error {
		if _, ok := doc.Mirrors[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMirror, name)
		}
		delete(doc.Mirrors, name)
		return nil
	})
	return err
}

// List returns all mirror records sorted by name.
func (c *Surface) List(enabledOnly bool) ([]Entry, error) {
	doc, err := c.loadTolerant()
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for name, m := range doc.Mirrors {
		if enabledOnly && !m.Enabled {
			continue
		}
		entries = append(entries, Entry{Name: name, Mirror: m})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Status returns the mirror record for name.
func (c *Surface) Status(name string) (*store.Mirror, error) {
	doc, err := c.loadTolerant()
	if err != nil {
		return nil, err
	}
	m, ok := doc.Mirrors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMirror, name)
	}
	return m, nil
}

// SyncNow runs one sync immediately, regardless of schedule or enabled flag,
// and records the outcome exactly like a scheduled run.
func (c *Surface) SyncNow(ctx context.Context, name string) (syncer.Outcome, error) {
	doc, err := c.loadTolerant()
	if err != nil {
		return syncer.Outcome{}, err
	}
	m, ok := doc.Mirrors[name]
	if !ok {
		return syncer.Outcome{}, fmt.Errorf("%w: %s", ErrUnknownMirror, name)
	}

	timeout := m.TimeoutSeconds
	if timeout <= 0 {
		timeout = doc.Defaults.TimeoutSeconds
	}
	if timeout <= 0 {
		timeout = 600
	}

	out := c.executor.Sync(ctx, name, time.Duration(timeout)*time.Second)
	if err := c.recorder.Record(name, out); err != nil {
		return out, err
	}
	return out, nil
}

// Summary aggregates a SyncAll run. Timeouts count as failed.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
}

// SyncAll syncs every enabled mirror under the same concurrency cap the
// scheduler uses and waits for all of them.
func (c *Surface) SyncAll(ctx context.Context) (Summary, error) {
	doc, err := c.loadTolerant()
	if err != nil {
		return Summary{}, err
	}

	var names []string
	for name, m := range doc.Mirrors {
		if m.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	limit := doc.Defaults.MaxConcurrent
	if limit <= 0 {
		limit = 3
	}

	var (
		mu      sync.Mutex
		summary = Summary{Total: len(names)}
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, name := range names {
		name := name
		g.Go(func() error {
			out, err := c.SyncNow(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err == nil && out.Status == syncer.StatusSuccess {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
			// Failures are part of the summary, never abort the group.
			return nil
		})
	}
	_ = g.Wait()
	return summary, nil
}

// Logs returns up to limit recent sync log lines, optionally filtered to one
// repository.
func (c *Surface) Logs(name string, limit int) ([]string, error) {
	return c.log.Recent(name, limit)
}

// loadTolerant loads the store, accepting a corrupt document as empty the
// same way the daemon does.
func (c *Surface) loadTolerant() (*store.Document, error) {
	doc, err := c.store.Load()
	if err != nil {
		var corrupt *store.CorruptError
		if errors.As(err, &corrupt) {
			return doc, nil
		}
		return nil, err
	}
	return doc, nil
}
