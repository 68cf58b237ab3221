// Package notify tells idle schedulers that a job was enqueued so they can
// skip the rest of their poll wait. Notifications are hints only; the
// scheduler still polls the store.
package notify

import "context"

// Notifier publishes enqueue events and exposes a wake channel to consumers.
type Notifier interface {
	JobEnqueued(ctx context.Context, jobID string) error
	// Wake returns a channel that receives after one or more enqueue events.
	// A nil channel never fires.
	Wake(ctx context.Context) <-chan struct{}
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) JobEnqueued(context.Context, string) error { return nil }
func (Noop) Wake(context.Context) <-chan struct{}      { return nil }
func (Noop) Close() error                              { return nil }

// Local wakes schedulers running in the same process.
type Local struct {
	ch chan struct{}
}

func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

func (l *Local) JobEnqueued(ctx context.Context, jobID string) error {
	signal(l.ch)
	return nil
}

func (l *Local) Wake(context.Context) <-chan struct{} {
	return l.ch
}

func (l *Local) Close() error {
	return nil
}

// signal performs a non-blocking send; pending wakes coalesce.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
