package domain

import "fmt"

// State is the persisted lifecycle position of a job.
type State struct {
	Status    JobStatus
	Retryable bool
}

// EventKind enumerates what can happen to a job.
type EventKind int

const (
	// EventClaim is a worker accepting the job.
	EventClaim EventKind = iota
	// EventSucceed is the pipeline finishing every stage.
	EventSucceed
	// EventFail is a stage returning an error.
	EventFail
)

func (k EventKind) String() string {
	switch k {
	case EventClaim:
		return "claim"
	case EventSucceed:
		return "succeed"
	case EventFail:
		return "fail"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event drives a transition. Attempts and MaxAttempts are only read for
// EventFail and carry the counter values after the failure was recorded.
type Event struct {
	Kind        EventKind
	Attempts    int
	MaxAttempts int
}

// Next is the only place a job status is derived from another. Every other
// component asks Next and persists the answer.
//
//	queued                  --claim-->   processing
//	failed (retryable)      --claim-->   processing
//	processing              --succeed--> completed
//	processing              --fail-->    failed (retryable while attempts < max)
func Next(from State, ev Event) (State, error) {
	switch ev.Kind {
	case EventClaim:
		if from.Status == JobStatusQueued || (from.Status == JobStatusFailed && from.Retryable) {
			return State{Status: JobStatusProcessing, Retryable: true}, nil
		}
	case EventSucceed:
		if from.Status == JobStatusProcessing {
			return State{Status: JobStatusCompleted}, nil
		}
	case EventFail:
		if from.Status == JobStatusProcessing {
			return State{Status: JobStatusFailed, Retryable: ev.Attempts < ev.MaxAttempts}, nil
		}
	}
	return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev.Kind, from.Status)
}
