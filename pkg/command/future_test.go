package command

import (
	"context"
	"testing"
	"time"

	"github.com/yexiyue/swarm-p2p/pkg/engine"
	"github.com/yexiyue/swarm-p2p/pkg/errors"
)

// syncHandler finishes inside Start, like stop-provide or remove-record.
type syncHandler struct {
	immediate[int]
	value int
}

func (h *syncHandler) Start(_ Engine, cell *Cell[int]) {
	cell.Finish(h.value, nil)
}

// waitingHandler never finishes on its own.
type waitingHandler struct{}

func (h *waitingHandler) Start(_ Engine, _ *Cell[int]) {}

func (h *waitingHandler) OnEvent(ev engine.Event, _ *Cell[int]) (bool, engine.Event) {
	return true, ev
}

// drainLoop emulates the event loop's command intake: start each envelope
// against the fake engine.
func drainLoop(t *testing.T, inbox <-chan Envelope, done <-chan struct{}) {
	t.Helper()
	eng := newFakeEngine()
	go func() {
		for {
			select {
			case env := <-inbox:
				env.Start(eng)
			case <-done:
				return
			}
		}
	}()
}

func TestFutureSynchronousFinish(t *testing.T) {
	inbox := make(chan Envelope, 1)
	loopDone := make(chan struct{})
	defer close(loopDone)
	drainLoop(t, inbox, loopDone)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A handler that finishes synchronously inside Start must still wake
	// the future: the cell's ready channel exists before submission.
	v, err := Await[int](ctx, &syncHandler{value: 7}, inbox, loopDone)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if v != 7 {
		t.Fatalf("got %d, want 7", v)
	}
}

func TestFutureChannelClosed(t *testing.T) {
	inbox := make(chan Envelope) // nobody reading
	loopDone := make(chan struct{})
	close(loopDone)

	ctx := context.Background()
	_, err := Await[int](ctx, &waitingHandler{}, inbox, loopDone)
	if err != errors.ErrChannelClosed {
		t.Fatalf("got %v, want ErrChannelClosed", err)
	}
}

func TestFutureContextCancelled(t *testing.T) {
	inbox := make(chan Envelope, 1)
	loopDone := make(chan struct{})
	defer close(loopDone)
	drainLoop(t, inbox, loopDone)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Await[int](ctx, &waitingHandler{}, inbox, loopDone)
	if err != context.Canceled {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestFutureAwaitIdempotent(t *testing.T) {
	inbox := make(chan Envelope, 1)
	loopDone := make(chan struct{})
	defer close(loopDone)
	drainLoop(t, inbox, loopDone)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := NewFuture[int](&syncHandler{value: 3}, inbox, loopDone)
	v1, err1 := f.Await(ctx)
	v2, err2 := f.Await(ctx)
	if err1 != nil || err2 != nil {
		t.Fatalf("awaits errored: %v, %v", err1, err2)
	}
	if v1 != 3 || v2 != 3 {
		t.Fatalf("got %d then %d, want 3 twice", v1, v2)
	}
}

func TestFutureLateFinish(t *testing.T) {
	inbox := make(chan Envelope, 1)
	loopDone := make(chan struct{})
	defer close(loopDone)

	h := &waitingHandler{}
	f := NewFuture[int](h, inbox, loopDone)

	// Emulate the loop: receive the envelope, finish it a moment later
	// through the handler's cell.
	go func() {
		env := <-inbox
		eng := newFakeEngine()
		env.Start(eng)
		time.Sleep(20 * time.Millisecond)
		// An event through the envelope does not resolve the waiting
		// handler; the cell is finished directly below.
		keep, _ := env.OnEvent(engine.QueryProgressed{})
		_ = keep
		env.(*envelope[int]).cell.Finish(11, nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if v != 11 {
		t.Fatalf("got %d, want 11", v)
	}
}
