package taskstore

import "context"

// Ack is the outcome of one remote operation issued by the store.
// It resolves exactly once, after the store has applied the outcome to its
// local state.
type Ack struct {
	taskID string
	op     string
	done   chan struct{}
	err    error
}

func newAck(taskID, op string) *Ack {
	return &Ack{taskID: taskID, op: op, done: make(chan struct{})}
}

// TaskID returns the identity the operation targeted.
func (a *Ack) TaskID() string { return a.taskID }

// Op returns OpWrite or OpDelete.
func (a *Ack) Op() string { return a.op }

// Done is closed when the remote outcome is known.
func (a *Ack) Done() <-chan struct{} { return a.done }

// Err returns the remote outcome. It is nil until Done is closed.
func (a *Ack) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

// Wait blocks until the outcome is known or ctx ends.
func (a *Ack) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Ack) resolve(err error) {
	a.err = err
	close(a.done)
}
