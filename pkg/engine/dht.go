package engine

import (
	"context"
	"encoding/base32"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/multiformats/go-multiaddr"
	"github.com/multiformats/go-multihash"
	"go.uber.org/zap"

	"github.com/yexiyue/swarm-p2p/pkg/errors"
	"github.com/yexiyue/swarm-p2p/pkg/logging"
)

// The DHT side of the engine. go-libp2p-kad-dht exposes blocking calls;
// the engine runs each on a worker goroutine and reports progress as
// QueryProgressed events carrying an engine-assigned QueryID, so commands
// can match completions the same way they match request ids.

const republishInterval = 30 * time.Minute

func (e *Engine) newQueryID() QueryID {
	e.nextQueryID++
	return QueryID(e.nextQueryID)
}

func (e *Engine) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.ctx, e.cfg.KadQueryTimeout)
}

// Bootstrap joins the DHT and refreshes the routing table. Refusal is
// synchronous when the routing table is empty.
func (e *Engine) Bootstrap() (QueryID, error) {
	if e.dht.RoutingTable().Size() == 0 {
		return 0, errors.ErrNoKnownPeers
	}
	id := e.newQueryID()
	go func() {
		start := time.Now()
		ctx, cancel := e.queryCtx()
		defer cancel()

		err := e.dht.Bootstrap(ctx)
		if err == nil {
			select {
			case err = <-e.dht.RefreshRoutingTable():
			case <-ctx.Done():
				err = ctx.Err()
			}
		}

		size := uint32(e.dht.RoutingTable().Size())
		e.emit(QueryProgressed{
			ID:     id,
			Result: BootstrapProgress{NumRemaining: 0, Err: err},
			Stats:  QueryStats{Duration: time.Since(start), NumRequests: size, NumSuccesses: size},
			Last:   true,
		})
	}()
	return id, nil
}

// PutRecord stores a record on the DHT; the final event reports success or
// failure. The quorum is not applied: PutValue takes no acceptance
// threshold, so the write completes as go-libp2p-kad-dht decides.
func (e *Engine) PutRecord(rec Record, _ Quorum) QueryID {
	id := e.newQueryID()
	go func() {
		start := time.Now()
		ctx, cancel := e.queryCtx()
		defer cancel()

		err := e.dht.PutValue(ctx, string(rec.Key), rec.Value)
		e.emit(QueryProgressed{
			ID:     id,
			Result: PutRecordDone{Err: err},
			Stats:  singleQueryStats(start, err),
			Last:   true,
		})
	}()
	return id
}

// GetRecord looks a record up on the DHT.
func (e *Engine) GetRecord(key RecordKey) QueryID {
	id := e.newQueryID()
	go func() {
		start := time.Now()
		ctx, cancel := e.queryCtx()
		defer cancel()

		val, err := e.dht.GetValue(ctx, string(key))
		result := GetRecordProgress{Err: err}
		if err == nil {
			result.Record = &Record{Key: key, Value: val}
		}
		e.emit(QueryProgressed{
			ID:     id,
			Result: result,
			Stats:  singleQueryStats(start, err),
			Last:   true,
		})
	}()
	return id
}

// RemoveRecord deletes a record from the local store. Peers already holding
// a replica keep it until their own TTL expires.
func (e *Engine) RemoveRecord(key RecordKey) {
	if err := e.recordStore.Delete(e.ctx, recordDsKey(key)); err != nil && err != ds.ErrNotFound {
		e.log.ComponentWarn(logging.ComponentDHT, "failed to remove local record", zap.Error(err))
	}
}

// StartProvide announces this node as a provider for the key and keeps
// republishing until StopProvide.
func (e *Engine) StartProvide(key RecordKey) (QueryID, error) {
	c, err := keyToCid(key)
	if err != nil {
		return 0, err
	}
	e.providing.add(string(key), c)

	id := e.newQueryID()
	go func() {
		start := time.Now()
		ctx, cancel := e.queryCtx()
		defer cancel()

		err := e.dht.Provide(ctx, c, true)
		e.emit(QueryProgressed{
			ID:     id,
			Result: StartProvideDone{Err: err},
			Stats:  singleQueryStats(start, err),
			Last:   true,
		})
	}()
	return id, nil
}

// StopProvide stops republishing the key. Idempotent: unknown keys are a
// no-op. Provider records already on the network lapse on their own TTL.
func (e *Engine) StopProvide(key RecordKey) {
	e.providing.remove(string(key))
}

// GetProviders streams providers of the key. Each discovered provider is an
// intermediate progress event; the final event has Last set.
func (e *Engine) GetProviders(key RecordKey) QueryID {
	id := e.newQueryID()
	go func() {
		start := time.Now()
		ctx, cancel := e.queryCtx()
		defer cancel()

		c, err := keyToCid(key)
		if err != nil {
			e.emit(QueryProgressed{
				ID:     id,
				Result: GetProvidersProgress{Err: err},
				Stats:  singleQueryStats(start, err),
				Last:   true,
			})
			return
		}

		var found uint32
		for info := range e.dht.FindProvidersAsync(ctx, c, 0) {
			if info.ID == "" {
				continue
			}
			found++
			e.emit(QueryProgressed{
				ID:     id,
				Result: GetProvidersProgress{Providers: []peer.ID{info.ID}},
				Stats:  QueryStats{NumRequests: 1, NumSuccesses: 1},
				Last:   false,
			})
		}
		e.emit(QueryProgressed{
			ID:     id,
			Result: GetProvidersProgress{},
			Stats:  QueryStats{Duration: time.Since(start)},
			Last:   true,
		})
	}()
	return id
}

// GetClosestPeers walks the DHT toward the key and returns the closest
// known peers.
func (e *Engine) GetClosestPeers(key []byte) QueryID {
	id := e.newQueryID()
	go func() {
		start := time.Now()
		ctx, cancel := e.queryCtx()
		defer cancel()

		peers, err := e.dht.GetClosestPeers(ctx, string(key))
		e.emit(QueryProgressed{
			ID:     id,
			Result: GetClosestPeersDone{Peers: peers, Err: err},
			Stats: QueryStats{
				Duration:     time.Since(start),
				NumRequests:  uint32(len(peers)),
				NumSuccesses: uint32(len(peers)),
			},
			Last: true,
		})
	}()
	return id
}

// AddRoutingPeer records the peer's addresses and offers it to the DHT
// routing table. Called by the loop after a protocol-version match.
func (e *Engine) AddRoutingPeer(p peer.ID, addrs []multiaddr.Multiaddr) {
	e.host.Peerstore().AddAddrs(p, addrs, peerstore.RecentlyConnectedAddrTTL)
	if _, err := e.dht.RoutingTable().TryAddPeer(p, true, false); err != nil {
		e.log.ComponentDebug(logging.ComponentDHT, "routing table rejected peer",
			zap.String("peer", p.String()), zap.Error(err))
	}
}

// RoutingTableSize reports the current number of routing-table peers.
func (e *Engine) RoutingTableSize() int {
	return e.dht.RoutingTable().Size()
}

// routingTableFilter admits only peers whose identify-advertised protocol
// version matches ours byte for byte. This keeps applications sharing the
// codebase on disjoint DHT networks even when they interconnect.
func (e *Engine) routingTableFilter(_ interface{}, p peer.ID) bool {
	v, err := e.host.Peerstore().Get(p, "ProtocolVersion")
	if err != nil {
		return false
	}
	s, ok := v.(string)
	return ok && s == e.cfg.ProtocolVersion
}

// republishLoop re-announces provided keys so provider records outlive
// their network-side TTL.
func (e *Engine) republishLoop() {
	ticker := time.NewTicker(republishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
		}
		for _, c := range e.providing.snapshot() {
			ctx, cancel := e.queryCtx()
			if err := e.dht.Provide(ctx, c, true); err != nil {
				e.log.ComponentDebug(logging.ComponentDHT, "republish failed",
					zap.String("cid", c.String()), zap.Error(err))
			}
			cancel()
		}
	}
}

// permissiveValidator accepts any record key and value; applications using
// this library define their own record semantics above the core.
type permissiveValidator struct{}

func (permissiveValidator) Validate(string, []byte) error { return nil }

func (permissiveValidator) Select(_ string, values [][]byte) (int, error) {
	return 0, nil
}

// provideSet tracks keys this node currently provides.
type provideSet struct {
	mu   sync.Mutex
	keys map[string]cid.Cid
}

func newProvideSet() *provideSet {
	return &provideSet{keys: make(map[string]cid.Cid)}
}

func (s *provideSet) add(key string, c cid.Cid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = c
}

func (s *provideSet) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

func (s *provideSet) snapshot() []cid.Cid {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cid.Cid, 0, len(s.keys))
	for _, c := range s.keys {
		out = append(out, c)
	}
	return out
}

// keyToCid derives the provider CID for an arbitrary byte key.
func keyToCid(key RecordKey) (cid.Cid, error) {
	mh, err := multihash.Sum(key, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// recordDsKey mirrors the datastore key layout the DHT uses for records.
func recordDsKey(key RecordKey) ds.Key {
	return ds.RawKey("/" + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(key))
}

func singleQueryStats(start time.Time, err error) QueryStats {
	s := QueryStats{Duration: time.Since(start), NumRequests: 1}
	if err == nil {
		s.NumSuccesses = 1
	} else {
		s.NumFailures = 1
	}
	return s
}
