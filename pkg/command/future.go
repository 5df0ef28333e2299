package command

import (
	"context"
	"sync"

	"github.com/yexiyue/swarm-p2p/pkg/errors"
)

// Future bridges a caller to one submitted command. Submission is lazy:
// nothing reaches the event loop until the first Await. After submission
// the same call falls through to waiting on the cell — the cell's ready
// channel predates the submission, so a handler that finishes synchronously
// inside Start cannot slip through unobserved.
type Future[T any] struct {
	mu       sync.Mutex
	handler  Handler[T] // nil once submitted
	cell     *Cell[T]
	inbox    chan<- Envelope
	loopDone <-chan struct{}

	resolved bool
	value    T
	err      error
}

// NewFuture creates an unsubmitted future for the handler.
func NewFuture[T any](h Handler[T], inbox chan<- Envelope, loopDone <-chan struct{}) *Future[T] {
	return &Future[T]{
		handler:  h,
		cell:     NewCell[T](),
		inbox:    inbox,
		loopDone: loopDone,
	}
}

// Await submits the command if it has not been submitted yet, then blocks
// until the result is available, the loop exits, or ctx is done. Await is
// idempotent once resolved. Cancelling ctx abandons the wait but does not
// abort the in-flight command.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	var zero T

	f.mu.Lock()
	if f.resolved {
		defer f.mu.Unlock()
		return f.value, f.err
	}
	if f.handler != nil {
		h := f.handler
		env := Wrap(h, f.cell)
		f.handler = nil
		f.mu.Unlock()

		select {
		case f.inbox <- env:
		case <-f.loopDone:
			return zero, f.resolve(zero, errors.ErrChannelClosed)
		case <-ctx.Done():
			// Not submitted: keep the handler so a later Await can.
			f.mu.Lock()
			f.handler = h
			f.mu.Unlock()
			return zero, ctx.Err()
		}
	} else {
		f.mu.Unlock()
	}

	select {
	case <-f.cell.Ready():
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-f.loopDone:
		// The loop may have finished the cell just before exiting.
		select {
		case <-f.cell.Ready():
		default:
			return zero, f.resolve(zero, errors.ErrChannelClosed)
		}
	}

	v, err, ok := f.cell.Take()
	if !ok {
		// Drained by a concurrent Await; report the cached result.
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	}
	return v, f.resolve(v, err)
}

func (f *Future[T]) resolve(v T, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.resolved {
		f.resolved = true
		f.value = v
		f.err = err
	}
	return f.err
}

// Await is a convenience for submit-and-wait in one step.
func Await[T any](ctx context.Context, h Handler[T], inbox chan<- Envelope, loopDone <-chan struct{}) (T, error) {
	return NewFuture(h, inbox, loopDone).Await(ctx)
}
