package command

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/yexiyue/swarm-p2p/pkg/engine"
)

// fakeEngine records calls and returns scripted ids/errors. It stands in
// for *engine.Engine in handler tests.
type fakeEngine struct {
	connected map[peer.ID]bool

	dialed        []peer.ID
	addedAddrs    map[peer.ID][]multiaddr.Multiaddr
	listenAddrs   []multiaddr.Multiaddr
	sentRequests  [][]byte
	sentResponses [][]byte

	nextQueryID   engine.QueryID
	nextRequestID engine.RequestID

	bootstrapErr    error
	startProvideErr error

	removedRecords []engine.RecordKey
	stoppedKeys    []engine.RecordKey
	putRecords     []engine.Record
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		connected:  make(map[peer.ID]bool),
		addedAddrs: make(map[peer.ID][]multiaddr.Multiaddr),
	}
}

func (f *fakeEngine) IsConnected(p peer.ID) bool { return f.connected[p] }

func (f *fakeEngine) Dial(p peer.ID, _ []multiaddr.Multiaddr) {
	f.dialed = append(f.dialed, p)
}

func (f *fakeEngine) AddAddresses(p peer.ID, addrs []multiaddr.Multiaddr) {
	f.addedAddrs[p] = append(f.addedAddrs[p], addrs...)
}

func (f *fakeEngine) ListenAddrs() []multiaddr.Multiaddr { return f.listenAddrs }

func (f *fakeEngine) SendRequest(_ peer.ID, payload []byte) engine.RequestID {
	f.sentRequests = append(f.sentRequests, payload)
	f.nextRequestID++
	return f.nextRequestID
}

func (f *fakeEngine) SendResponse(_ *engine.ResponseChannel, payload []byte) {
	f.sentResponses = append(f.sentResponses, payload)
}

func (f *fakeEngine) Bootstrap() (engine.QueryID, error) {
	if f.bootstrapErr != nil {
		return 0, f.bootstrapErr
	}
	f.nextQueryID++
	return f.nextQueryID, nil
}

func (f *fakeEngine) PutRecord(rec engine.Record, _ engine.Quorum) engine.QueryID {
	f.putRecords = append(f.putRecords, rec)
	f.nextQueryID++
	return f.nextQueryID
}

func (f *fakeEngine) GetRecord(_ engine.RecordKey) engine.QueryID {
	f.nextQueryID++
	return f.nextQueryID
}

func (f *fakeEngine) RemoveRecord(key engine.RecordKey) {
	f.removedRecords = append(f.removedRecords, key)
}

func (f *fakeEngine) StartProvide(_ engine.RecordKey) (engine.QueryID, error) {
	if f.startProvideErr != nil {
		return 0, f.startProvideErr
	}
	f.nextQueryID++
	return f.nextQueryID, nil
}

func (f *fakeEngine) StopProvide(key engine.RecordKey) {
	f.stoppedKeys = append(f.stoppedKeys, key)
}

func (f *fakeEngine) GetProviders(_ engine.RecordKey) engine.QueryID {
	f.nextQueryID++
	return f.nextQueryID
}

func (f *fakeEngine) GetClosestPeers(_ []byte) engine.QueryID {
	f.nextQueryID++
	return f.nextQueryID
}
