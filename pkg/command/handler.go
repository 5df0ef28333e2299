package command

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/yexiyue/swarm-p2p/pkg/engine"
)

// Engine is the slice of the network engine that commands drive. Handlers
// receive it in Start, always on the event loop goroutine; they never
// retain it. Implemented by *engine.Engine; faked in tests.
type Engine interface {
	IsConnected(p peer.ID) bool
	Dial(p peer.ID, addrs []multiaddr.Multiaddr)
	AddAddresses(p peer.ID, addrs []multiaddr.Multiaddr)
	ListenAddrs() []multiaddr.Multiaddr

	SendRequest(p peer.ID, payload []byte) engine.RequestID
	SendResponse(ch *engine.ResponseChannel, payload []byte)

	Bootstrap() (engine.QueryID, error)
	PutRecord(rec engine.Record, q engine.Quorum) engine.QueryID
	GetRecord(key engine.RecordKey) engine.QueryID
	RemoveRecord(key engine.RecordKey)
	StartProvide(key engine.RecordKey) (engine.QueryID, error)
	StopProvide(key engine.RecordKey)
	GetProviders(key engine.RecordKey) engine.QueryID
	GetClosestPeers(key []byte) engine.QueryID
}

// Handler is the per-operation state machine. Start runs once, on the loop
// goroutine, right after the envelope joins the active set; it may call
// into the engine and may finish the cell synchronously. OnEvent runs once
// per engine event while the command is active: the handler inspects the
// event, optionally finishes the cell, and returns whether it stays active
// and whether the event continues down the chain (nil remainder consumes
// it).
type Handler[T any] interface {
	Start(eng Engine, cell *Cell[T])
	OnEvent(ev engine.Event, cell *Cell[T]) (keep bool, remainder engine.Event)
}

// Envelope is the type-erased unit the event loop stores: a handler plus
// its result cell, with the result type retained privately.
type Envelope interface {
	Start(eng Engine)
	OnEvent(ev engine.Event) (keep bool, remainder engine.Event)
	// Done reports whether the command already finished (used to reap
	// commands that complete synchronously in Start).
	Done() bool
}

type envelope[T any] struct {
	handler Handler[T]
	cell    *Cell[T]
}

// Wrap packages a handler with its cell into a loop-storable envelope.
func Wrap[T any](h Handler[T], cell *Cell[T]) Envelope {
	return &envelope[T]{handler: h, cell: cell}
}

func (e *envelope[T]) Start(eng Engine) {
	e.handler.Start(eng, e.cell)
}

func (e *envelope[T]) OnEvent(ev engine.Event) (bool, engine.Event) {
	return e.handler.OnEvent(ev, e.cell)
}

func (e *envelope[T]) Done() bool {
	return e.cell.Done()
}

// immediate is embedded by handlers that finish inside Start and never
// wait for events.
type immediate[T any] struct{}

func (immediate[T]) OnEvent(ev engine.Event, _ *Cell[T]) (bool, engine.Event) {
	return false, ev
}
