// Package recorder persists sync outcomes and appends them to the sync log.
package recorder

import (
	"errors"
	"time"

	"gitmirror/mirrorlog"
	"gitmirror/schedule"
	"gitmirror/store"
	"gitmirror/syncer"
)

// Recorder routes every sync outcome into the schedule store and the rotating
// log. Status fields are observational; the scheduler never reads them to
// decide due-ness beyond last_run_at.
type Recorder struct {
	store *store.Store
	log   *mirrorlog.Logger
}

func New(st *store.Store, log *mirrorlog.Logger) *Recorder {
	return &Recorder{store: st, log: log}
}

var errMirrorGone = errors.New("mirror removed from store")

// Record updates the repository's status fields with one read-modify-write
// cycle and appends a log line. Recording the same outcome twice leaves the
// stored status identical. A mirror deleted concurrently is only logged. A
// persistence failure is returned to the caller but is never fatal: the next
// recorded outcome retries the write.
func (r *Recorder) Record(name string, out syncer.Outcome) error {
	now := time.Now().UTC()
	seconds := int64(out.Duration.Seconds())

	_, err := r.store.Update(func(doc *store.Document) error {
		m, ok := doc.Mirrors[name]
		if !ok {
			return errMirrorGone
		}
		m.LastRunAt = &now
		m.LastStatus = store.Status(out.Status)
		m.LastDurationSeconds = &seconds
		if out.Status == syncer.StatusSuccess {
			m.LastError = nil
		} else {
			errText := out.Err
			m.LastError = &errText
		}
		if next, nerr := schedule.NextOccurrence(m.Schedule, now); nerr == nil {
			m.NextRunAt = &next
		}
		return nil
	})
	if errors.Is(err, errMirrorGone) {
		err = nil
	}

	switch out.Status {
	case syncer.StatusSuccess:
		r.log.Success("%s: synced successfully (%.1fs)", name, out.Duration.Seconds())
	default:
		r.log.Error("%s: %s", name, out.Err)
	}
	return err
}
