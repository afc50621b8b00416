package scheduler

import (
	"sync"
	"time"

	"pricetrail/models"
)

// Tally counts target outcomes within one run.
type Tally struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
}

// Flight is the view of RunState the gate needs.
type Flight interface {
	// TryStart marks a run as executing. It returns false, changing
	// nothing, when one already is.
	TryStart(runID string, now time.Time) bool
	// Hold keeps runs from starting until release is called. It fails
	// when a run is executing or another hold is active.
	Hold() (release func(), ok bool)
	Record(t Tally)
	Finish(now time.Time, aborted bool)
}

// RunState is the single-flight guard plus the bookkeeping of the current
// or last run. Create one per scheduler and share it with readers.
type RunState struct {
	mu   sync.Mutex
	s    models.RunState
	held bool
}

func NewRunState() *RunState {
	return &RunState{}
}

func (r *RunState) TryStart(runID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s.Running || r.held {
		return false
	}
	started := now
	r.s = models.RunState{
		Running:   true,
		RunID:     runID,
		StartedAt: &started,
	}
	return true
}

func (r *RunState) Hold() (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s.Running || r.held {
		return nil, false
	}
	r.held = true
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.held = false
			r.mu.Unlock()
		})
	}, true
}

func (r *RunState) Record(t Tally) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Attempted = t.Attempted
	r.s.Succeeded = t.Succeeded
	r.s.Failed = t.Failed
	r.s.Skipped = t.Skipped
}

func (r *RunState) Finish(now time.Time, aborted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	finished := now
	r.s.Running = false
	r.s.FinishedAt = &finished
	r.s.Aborted = aborted
}

// Snapshot returns a copy safe to hand out.
func (r *RunState) Snapshot() models.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.s
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		s.FinishedAt = &t
	}
	return s
}
