package pipeline

import (
	"fmt"
	"sync"
)

// State is a job's position in the pipeline state machine.
type State string

const (
	StateReceived     State = "received"
	StateReducing     State = "reducing"
	StateTranscribing State = "transcribing"
	StateAnalyzing    State = "analyzing"
	StateDelivering   State = "delivering"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// validTransition encodes the pipeline state machine. Transcription
// failures degrade rather than fail, so StateTranscribing has no edge to
// StateFailed; delivery failures leave the job complete, so
// StateDelivering only moves to StateDone.
func validTransition(from, to State) bool {
	switch from {
	case StateReceived:
		return to == StateReducing
	case StateReducing:
		return to == StateTranscribing || to == StateFailed
	case StateTranscribing:
		return to == StateAnalyzing
	case StateAnalyzing:
		return to == StateDelivering || to == StateFailed
	case StateDelivering:
		return to == StateDone
	default:
		// Done and Failed are absorbing.
		return false
	}
}

// Tracker records the current state of in-flight jobs and enforces the
// state machine. It is safe for concurrent use; each job is only advanced
// by the single worker that owns it, but independent jobs advance from
// separate goroutines.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string]State
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]State)}
}

// Begin registers a job in StateReceived. Registering an ID twice is an
// error: job IDs are unique and a duplicate means a scheduling bug.
func (t *Tracker) Begin(jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.jobs[jobID]; exists {
		return fmt.Errorf("job %s already tracked", jobID)
	}
	t.jobs[jobID] = StateReceived
	return nil
}

// Advance moves a job to the next state, rejecting transitions the state
// machine does not allow.
func (t *Tracker) Advance(jobID string, to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	from, exists := t.jobs[jobID]
	if !exists {
		return fmt.Errorf("job %s not tracked", jobID)
	}
	if !validTransition(from, to) {
		return fmt.Errorf("invalid transition for job %s: %s -> %s", jobID, from, to)
	}
	t.jobs[jobID] = to
	return nil
}

// Current returns a job's state and whether it is tracked.
func (t *Tracker) Current(jobID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.jobs[jobID]
	return s, ok
}

// Remove forgets a job after it reaches a terminal state.
func (t *Tracker) Remove(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, jobID)
}

// Active returns the number of tracked jobs not yet in a terminal state.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.jobs {
		if !s.Terminal() {
			n++
		}
	}
	return n
}
