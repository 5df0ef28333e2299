package engine

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
)

// connTracker counts live connections per peer so the loop can collapse
// connection churn into peer-granularity transitions, and runs one pinger
// per connected peer. Notify callbacks arrive on libp2p goroutines, hence
// the mutex.
type connTracker struct {
	e *Engine

	mu      sync.Mutex
	counts  map[peer.ID]int
	pingers map[peer.ID]context.CancelFunc
}

func newConnTracker(e *Engine) *connTracker {
	return &connTracker{
		e:       e,
		counts:  make(map[peer.ID]int),
		pingers: make(map[peer.ID]context.CancelFunc),
	}
}

func (t *connTracker) notifiee() network.Notifiee {
	return &network.NotifyBundle{
		ConnectedF:    t.connected,
		DisconnectedF: t.disconnected,
	}
}

func (t *connTracker) connected(_ network.Network, c network.Conn) {
	p := c.RemotePeer()

	t.mu.Lock()
	t.counts[p]++
	n := t.counts[p]
	if n == 1 && t.e.cfg.PingInterval > 0 {
		ctx, cancel := context.WithCancel(t.e.ctx)
		t.pingers[p] = cancel
		go t.pingLoop(ctx, p)
	}
	t.mu.Unlock()

	t.e.emit(ConnectionEstablished{Peer: p, NumEstablished: n})
}

func (t *connTracker) disconnected(_ network.Network, c network.Conn) {
	p := c.RemotePeer()

	t.mu.Lock()
	t.counts[p]--
	n := t.counts[p]
	if n <= 0 {
		delete(t.counts, p)
		n = 0
		if cancel, ok := t.pingers[p]; ok {
			cancel()
			delete(t.pingers, p)
		}
	}
	t.mu.Unlock()

	t.e.emit(ConnectionClosed{Peer: p, NumEstablished: n})
}

// pingLoop measures one round trip per interval while the peer stays
// connected.
func (t *connTracker) pingLoop(ctx context.Context, p peer.ID) {
	ticker := time.NewTicker(t.e.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pctx, cancel := context.WithTimeout(ctx, t.e.cfg.PingTimeout)
		res, ok := <-ping.Ping(pctx, t.e.host, p)
		cancel()
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		t.e.emit(PingResult{Peer: p, RTT: res.RTT, Err: res.Error})
	}
}
