package pending

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestInsertTake(t *testing.T) {
	r := New[string](time.Minute)
	r.Insert(1, "a")
	r.Insert(2, "b")

	v, ok := r.Take(1)
	if !ok || v != "a" {
		t.Fatalf("got (%q, %v)", v, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestTakeConsumesOnce(t *testing.T) {
	r := New[string](time.Minute)
	r.Insert(7, "x")

	if _, ok := r.Take(7); !ok {
		t.Fatal("first take failed")
	}
	if _, ok := r.Take(7); ok {
		t.Fatal("second take succeeded")
	}
}

func TestTakeMissing(t *testing.T) {
	r := New[string](time.Minute)
	if _, ok := r.Take(99); ok {
		t.Fatal("take on empty registry succeeded")
	}
}

func TestEvictionRespectsTTL(t *testing.T) {
	clk := clock.NewMock()
	r := NewWithClock[string](30*time.Second, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evicted := make(chan string, 4)
	r.StartEvictor(ctx, func(v string) { evicted <- v })
	// Give the evictor goroutine a beat to arm its ticker before the mock
	// clock moves.
	time.Sleep(10 * time.Millisecond)

	r.Insert(1, "old")

	// First tick at +10s: entry is 10s old, stays.
	clk.Add(10 * time.Second)
	if r.Len() != 1 {
		t.Fatal("entry evicted before TTL")
	}

	r.Insert(2, "young")

	// Two more ticks: the first entry crosses 30s, the second is 20s old.
	clk.Add(10 * time.Second)
	clk.Add(10 * time.Second)

	select {
	case v := <-evicted:
		if v != "old" {
			t.Fatalf("evicted %q, want old", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("eviction callback never fired")
	}
	if _, ok := r.Take(1); ok {
		t.Fatal("expired entry still takeable")
	}
	if _, ok := r.Take(2); !ok {
		t.Fatal("young entry evicted early")
	}
}
