// Package tracker holds the in-memory conversion state of papers: at most
// one job record per paper, moved through
//
//	downloading -> converting -> success | error
//
// Records are a cache of recent activity. The converted file on disk stays
// authoritative for whether a paper is available.
package tracker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/papershelf/internal/domain"
)

// ErrIllegalTransition is returned by Advance for a move the state machine does not allow.
var ErrIllegalTransition = errors.New("illegal phase transition")

// Observer is notified after every accepted transition, including creation.
// Observers run on the goroutine that caused the transition and must not block.
type Observer func(domain.JobStatus)

// Tracker is a mutex-guarded map of job records keyed by paper ID.
type Tracker struct {
	mu        sync.Mutex
	records   map[string]*domain.JobStatus
	observers []Observer
	now       func() time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		records: make(map[string]*domain.JobStatus),
		now:     time.Now,
	}
}

// Subscribe registers an observer. Call it before the tracker is shared.
func (t *Tracker) Subscribe(o Observer) {
	t.mu.Lock()
	t.observers = append(t.observers, o)
	t.mu.Unlock()
}

// Status returns a copy of the record for a paper.
func (t *Tracker) Status(paperID string) (domain.JobStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[paperID]
	if !ok {
		return domain.JobStatus{}, false
	}
	return copyStatus(rec), true
}

// Begin creates a downloading record if none exists. When a record already
// exists it is returned unchanged with created == false; check and create
// happen under one lock.
func (t *Tracker) Begin(paperID string) (status domain.JobStatus, created bool) {
	t.mu.Lock()
	if rec, ok := t.records[paperID]; ok {
		snapshot := copyStatus(rec)
		t.mu.Unlock()
		return snapshot, false
	}

	rec := &domain.JobStatus{
		JobID:     uuid.New().String(),
		PaperID:   paperID,
		Phase:     domain.PhaseFetching,
		StartedAt: t.now(),
	}
	t.records[paperID] = rec
	snapshot := copyStatus(rec)
	observers := t.observers
	t.mu.Unlock()

	notify(observers, snapshot)
	return snapshot, true
}

// Advance moves a paper's record to the given phase. errMsg is recorded
// only when moving to error. Calls for papers without a record are ignored.
func (t *Tracker) Advance(paperID string, to domain.Phase, errMsg string) error {
	t.mu.Lock()
	rec, ok := t.records[paperID]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	if !allowed(rec.Phase, to) {
		from := rec.Phase
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s for %s", ErrIllegalTransition, from, to, paperID)
	}

	rec.Phase = to
	if to.IsTerminal() {
		completed := t.now()
		if completed.Before(rec.StartedAt) {
			completed = rec.StartedAt
		}
		rec.CompletedAt = &completed
	}
	if to == domain.PhaseFailed {
		rec.Error = errMsg
	}
	snapshot := copyStatus(rec)
	observers := t.observers
	t.mu.Unlock()

	notify(observers, snapshot)
	return nil
}

// Forget drops a terminal record so the next download request starts a
// fresh job. In-flight records are kept and false is returned.
func (t *Tracker) Forget(paperID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[paperID]
	if !ok || !rec.Phase.IsTerminal() {
		return false
	}
	delete(t.records, paperID)
	return true
}

// List returns copies of all records ordered by start time.
func (t *Tracker) List() []domain.JobStatus {
	t.mu.Lock()
	out := make([]domain.JobStatus, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, copyStatus(rec))
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].PaperID < out[j].PaperID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func allowed(from, to domain.Phase) bool {
	switch from {
	case domain.PhaseFetching:
		return to == domain.PhaseConverting || to == domain.PhaseFailed
	case domain.PhaseConverting:
		return to == domain.PhaseSucceeded || to == domain.PhaseFailed
	}
	return false
}

func copyStatus(rec *domain.JobStatus) domain.JobStatus {
	c := *rec
	if rec.CompletedAt != nil {
		completed := *rec.CompletedAt
		c.CompletedAt = &completed
	}
	return c
}

func notify(observers []Observer, s domain.JobStatus) {
	for _, o := range observers {
		o(s)
	}
}
