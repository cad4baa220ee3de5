// Package scheduler runs the mirror sync daemon loop: poll the schedule
// store on a fixed tick, compute the due set, and dispatch syncs to a bounded
// worker pool.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gitmirror/recorder"
	"gitmirror/schedule"
	"gitmirror/store"
	"gitmirror/syncer"
)

type Config struct {
	// Tick is the poll interval.
	Tick time.Duration
	// MaxConcurrent caps in-flight syncs.
	MaxConcurrent int
	// WakeDelay debounces store-change wakeups. Zero means the default.
	WakeDelay time.Duration
}

const defaultWakeDelay = 500 * time.Millisecond

// Scheduler is the daemon loop. It has a single running state, entered at
// start and left only on context cancellation.
type Scheduler struct {
	store    *store.Store
	executor *syncer.Executor
	recorder *recorder.Recorder
	log      zerolog.Logger

	tick          time.Duration
	maxConcurrent int
	wakeDelay     time.Duration

	// wake triggers an early tick when the control surface mutates the store.
	wake chan struct{}

	// inFlight guards against re-dispatching a mirror whose sync outlives a
	// tick: it stays due until its last_run_at is recorded on completion.
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(st *store.Store, ex *syncer.Executor, rec *recorder.Recorder, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.WakeDelay <= 0 {
		cfg.WakeDelay = defaultWakeDelay
	}
	return &Scheduler{
		store:         st,
		executor:      ex,
		recorder:      rec,
		log:           log,
		tick:          cfg.Tick,
		maxConcurrent: cfg.MaxConcurrent,
		wakeDelay:     cfg.WakeDelay,
		wake:          make(chan struct{}, 1),
		inFlight:      make(map[string]struct{}),
	}
}

// Run executes sync cycles until ctx is cancelled, then drains in-flight
// syncs before returning. In-flight work is never force-killed on shutdown;
// each sync is already bounded by its own timeout.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().
		Dur("tick", s.tick).
		Int("max_concurrent", s.maxConcurrent).
		Msg("mirror sync daemon starting")

	go s.watchStore(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var wg sync.WaitGroup
	slots := make(chan struct{}, s.maxConcurrent)

	for {
		s.runCycle(ctx, &wg, slots)

		select {
		case <-ctx.Done():
			s.log.Info().Msg("shutdown requested, draining in-flight syncs")
			wg.Wait()
			s.log.Info().Msg("daemon shutdown complete")
			return nil
		case <-ticker.C:
		case <-s.wake:
			s.log.Debug().Msg("store changed, running early cycle")
		}
	}
}

type dueMirror struct {
	name    string
	timeout time.Duration
	lastRun *time.Time
}

// runCycle performs one tick: load the store, compute the due set, dispatch
// what fits in the pool. Mirrors that miss a slot are not queued; they are
// still due on the next tick and retried then.
func (s *Scheduler) runCycle(ctx context.Context, wg *sync.WaitGroup, slots chan struct{}) {
	if ctx.Err() != nil {
		return
	}

	doc, err := s.store.Load()
	if err != nil {
		var corrupt *store.CorruptError
		if errors.As(err, &corrupt) {
			// Recovered as an empty document; nothing to schedule.
			s.log.Warn().Err(err).Msg("mirror store unreadable, treating as empty")
		} else {
			s.log.Warn().Err(err).Msg("mirror store load failed, skipping cycle")
			return
		}
	}

	due := s.dueMirrors(doc, time.Now())
	if len(due) == 0 {
		return
	}
	s.log.Info().Int("count", len(due)).Msg("mirrors due for sync")

	for _, d := range due {
		if !s.markInFlight(d.name) {
			continue
		}

		select {
		case slots <- struct{}{}:
		default:
			// Pool is full. The mirror stays due and runs next tick.
			s.log.Debug().Str("mirror", d.name).Msg("no free sync slot, deferring to next cycle")
			s.clearInFlight(d.name)
			continue
		}

		wg.Add(1)
		go func(d dueMirror) {
			defer wg.Done()
			defer func() { <-slots }()
			defer s.clearInFlight(d.name)

			// Detached from cancellation so shutdown drains rather than
			// kills; the sync's own timeout still bounds it.
			out := s.executor.Sync(context.WithoutCancel(ctx), d.name, d.timeout)
			if err := s.recorder.Record(d.name, out); err != nil {
				s.log.Warn().Err(err).Str("mirror", d.name).Msg("failed to persist sync status")
			}
		}(d)
	}
}

func (s *Scheduler) markInFlight(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.inFlight[name]; running {
		return false
	}
	s.inFlight[name] = struct{}{}
	return true
}

func (s *Scheduler) clearInFlight(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, name)
}

// dueMirrors filters the document to enabled mirrors whose schedule has come
// around, oldest last run first. An evaluation error skips only that mirror.
func (s *Scheduler) dueMirrors(doc *store.Document, now time.Time) []dueMirror {
	var due []dueMirror
	for name, m := range doc.Mirrors {
		if !m.Enabled {
			continue
		}

		expr := m.Schedule
		if expr == "" {
			expr = doc.Defaults.Schedule
		}
		ok, err := schedule.IsDue(expr, m.LastRunAt, now)
		if err != nil {
			s.log.Warn().Err(err).Str("mirror", name).Msg("cannot evaluate schedule")
			continue
		}
		if !ok {
			continue
		}

		timeoutSeconds := m.TimeoutSeconds
		if timeoutSeconds <= 0 {
			timeoutSeconds = doc.Defaults.TimeoutSeconds
		}
		if timeoutSeconds <= 0 {
			timeoutSeconds = 600
		}
		due = append(due, dueMirror{
			name:    name,
			timeout: time.Duration(timeoutSeconds) * time.Second,
			lastRun: m.LastRunAt,
		})
	}

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		switch {
		case a.lastRun == nil && b.lastRun == nil:
			return a.name < b.name
		case a.lastRun == nil:
			return true
		case b.lastRun == nil:
			return false
		default:
			return a.lastRun.Before(*b.lastRun)
		}
	})
	return due
}
