package output

import (
	"time"

	"github.com/coupledsim/fieldio/internal/errs"
)

// State is a collection's position in the write cycle.
type State int

const (
	// StateAccumulating is the initial state: samples fold into the
	// accumulators and no write is pending.
	StateAccumulating State = iota
	// StateDue means the output frequency has elapsed since the last
	// successful write.
	StateDue
	// StateWriting means a flush is in progress.
	StateWriting
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateDue:
		return "due"
	case StateWriting:
		return "writing"
	default:
		return "accumulating"
	}
}

// Scheduler decides when a collection's accumulated data is due for a
// flush. The last-write time only advances on a successful write, so a
// failed flush retries at the next scheduled tick.
type Scheduler struct {
	frequency time.Duration
	lastWrite time.Time
	state     State
}

// NewScheduler creates a scheduler whose first due time is start plus the
// output frequency.
func NewScheduler(frequency time.Duration, start time.Time) *Scheduler {
	return &Scheduler{
		frequency: frequency,
		lastWrite: start,
		state:     StateAccumulating,
	}
}

// State returns the current state.
func (s *Scheduler) State() State { return s.state }

// LastWrite returns the time of the last successful write.
func (s *Scheduler) LastWrite() time.Time { return s.lastWrite }

// Check transitions ACCUMULATING to DUE when the output frequency has
// elapsed, and reports whether the collection is due.
func (s *Scheduler) Check(now time.Time) bool {
	if s.state == StateAccumulating && now.Sub(s.lastWrite) >= s.frequency {
		s.state = StateDue
	}
	return s.state == StateDue
}

// ForceDue marks the collection due regardless of elapsed time, used for
// the final flush at shutdown.
func (s *Scheduler) ForceDue() {
	if s.state == StateAccumulating {
		s.state = StateDue
	}
}

// BeginWrite transitions DUE to WRITING.
func (s *Scheduler) BeginWrite() error {
	if s.state != StateDue {
		return errs.Statef("output", "BeginWrite", "scheduler in state %s, expected due", s.state)
	}
	s.state = StateWriting
	return nil
}

// Complete records a successful write: the state returns to ACCUMULATING
// and the last-write time advances to now.
func (s *Scheduler) Complete(now time.Time) {
	s.state = StateAccumulating
	s.lastWrite = now
}

// Abort returns to ACCUMULATING after a failed write without advancing
// the last-write time, so the same data is retried next cycle.
func (s *Scheduler) Abort() {
	s.state = StateAccumulating
}
