package jobs

import (
	"fmt"
	"time"

	"github.com/bobarin/beatframe/internal/models"
)

// State is the local lifecycle of a tracked job.
type State string

const (
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// Job tracks one provider job through submitted -> polling -> terminal.
type Job struct {
	ExternalID string
	Kind       models.ArtifactKind
	State      State
	Attempts   int
	StartedAt  time.Time
}

func newJob(id string, kind models.ArtifactKind) *Job {
	return &Job{ExternalID: id, Kind: kind, State: StateSubmitted, StartedAt: time.Now()}
}

// advance moves the job forward. Terminal states are final, and polling is
// only entered from submitted.
func (j *Job) advance(next State) error {
	switch {
	case j.State.Terminal():
		return fmt.Errorf("job %s: cannot leave terminal state %s", j.ExternalID, j.State)
	case next == StateSubmitted:
		return fmt.Errorf("job %s: cannot return to %s", j.ExternalID, next)
	case next == StatePolling && j.State != StateSubmitted:
		return fmt.Errorf("job %s: cannot enter polling from %s", j.ExternalID, j.State)
	case next.Terminal() && j.State != StatePolling:
		return fmt.Errorf("job %s: cannot finish from %s", j.ExternalID, j.State)
	}
	j.State = next
	return nil
}
