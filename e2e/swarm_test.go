// Multi-node integration tests over localhost TCP. These spin up real
// nodes; run with -short to skip.
package e2e

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yexiyue/swarm-p2p/pkg/client"
	"github.com/yexiyue/swarm-p2p/pkg/config"
	"github.com/yexiyue/swarm-p2p/pkg/engine"
	"github.com/yexiyue/swarm-p2p/pkg/errors"
	"github.com/yexiyue/swarm-p2p/pkg/identity"
	"github.com/yexiyue/swarm-p2p/pkg/node"
)

type Msg struct {
	Text string `cbor:"text"`
}

const testTimeout = 15 * time.Second

// testConfig keeps everything local and deterministic: TCP on a random
// localhost port, no mDNS, no NAT machinery, DHT always in server mode.
func testConfig(protocolVersion string) config.Config {
	return config.New(protocolVersion, "swarm-test/1.0.0").
		WithListenAddresses("/ip4/127.0.0.1/tcp/0").
		WithMDNS(false).
		WithRelayClient(false).
		WithDCUtR(false).
		WithAutoNAT(false).
		WithKadServerMode(true)
}

type testNode struct {
	client *client.Client[Msg, Msg]
	events <-chan node.NodeEvent
}

func startNode(t *testing.T, cfg config.Config) *testNode {
	t.Helper()
	info, err := identity.Generate()
	require.NoError(t, err)

	cli, events, err := node.Start[Msg, Msg](info.PrivateKey, cfg)
	require.NoError(t, err)
	t.Cleanup(cli.Close)

	return &testNode{client: cli, events: events}
}

// connect dials b from a using b's live listen addresses.
func connect(t *testing.T, ctx context.Context, a, b *testNode) {
	t.Helper()
	addrs, err := b.client.ListenAddrs(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, addrs)
	require.NoError(t, a.client.DialAddrs(ctx, b.client.PeerID(), addrs))
}

// waitFor drains the node's events until pred accepts one.
func waitFor(t *testing.T, n *testNode, pred func(node.NodeEvent) bool) node.NodeEvent {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case ev, ok := <-n.events:
			require.True(t, ok, "event stream closed while waiting")
			if pred(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestRequestResponseRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("e2e")
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	a := startNode(t, testConfig("/x/1"))
	b := startNode(t, testConfig("/x/1"))
	connect(t, ctx, a, b)

	// B answers the first inbound request with pong.
	go func() {
		ev := waitFor(t, b, func(ev node.NodeEvent) bool {
			_, ok := ev.(node.InboundRequest[Msg])
			return ok
		})
		req := ev.(node.InboundRequest[Msg])
		require.Equal(t, uint64(0), req.SlotID)
		require.Equal(t, "ping", req.Request.Text)
		require.NoError(t, b.client.SendResponse(ctx, req.SlotID, Msg{Text: "pong"}))
	}()

	resp, err := a.client.SendRequest(ctx, b.client.PeerID(), Msg{Text: "ping"})
	require.NoError(t, err)
	require.Equal(t, "pong", resp.Text)
}

func TestPeerConnectedEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("e2e")
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	a := startNode(t, testConfig("/x/1"))
	b := startNode(t, testConfig("/x/1"))
	connect(t, ctx, a, b)

	ev := waitFor(t, a, func(ev node.NodeEvent) bool {
		pc, ok := ev.(node.PeerConnected)
		return ok && pc.Peer == b.client.PeerID()
	})
	require.NotNil(t, ev)

	ev = waitFor(t, b, func(ev node.NodeEvent) bool {
		pc, ok := ev.(node.PeerConnected)
		return ok && pc.Peer == a.client.PeerID()
	})
	require.NotNil(t, ev)
}

func TestSlotConsumedOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("e2e")
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	a := startNode(t, testConfig("/x/1"))
	b := startNode(t, testConfig("/x/1"))
	connect(t, ctx, a, b)

	answered := make(chan uint64, 1)
	go func() {
		ev := waitFor(t, b, func(ev node.NodeEvent) bool {
			_, ok := ev.(node.InboundRequest[Msg])
			return ok
		})
		req := ev.(node.InboundRequest[Msg])
		require.NoError(t, b.client.SendResponse(ctx, req.SlotID, Msg{Text: "pong"}))
		answered <- req.SlotID
	}()

	_, err := a.client.SendRequest(ctx, b.client.PeerID(), Msg{Text: "ping"})
	require.NoError(t, err)

	// Answering the same slot again fails typed: the slot was consumed.
	slot := <-answered
	err = b.client.SendResponse(ctx, slot, Msg{Text: "again"})
	require.ErrorIs(t, err, errors.ErrSlotExpired)
}

func TestBootstrapWithEmptyRoutingTable(t *testing.T) {
	if testing.Short() {
		t.Skip("e2e")
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	a := startNode(t, testConfig("/x/1"))

	start := time.Now()
	_, err := a.client.Bootstrap(ctx)
	require.ErrorIs(t, err, errors.ErrNoKnownPeers)
	require.Less(t, time.Since(start), time.Second)
}

func TestIdentifySurfacedRegardlessOfVersion(t *testing.T) {
	if testing.Short() {
		t.Skip("e2e")
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	a := startNode(t, testConfig("/x/1"))
	b := startNode(t, testConfig("/y/1"))
	connect(t, ctx, a, b)

	ev := waitFor(t, a, func(ev node.NodeEvent) bool {
		ir, ok := ev.(node.IdentifyReceived)
		return ok && ir.Peer == b.client.PeerID()
	})
	require.Equal(t, "/y/1", ev.(node.IdentifyReceived).ProtocolVersion)

	// The mismatching peer never lands in the routing table: bootstrap
	// still reports no known peers.
	_, err := a.client.Bootstrap(ctx)
	require.ErrorIs(t, err, errors.ErrNoKnownPeers)
}

func TestPutThenGetRecord(t *testing.T) {
	if testing.Short() {
		t.Skip("e2e")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	hub := startNode(t, testConfig("/x/1"))
	b := startNode(t, testConfig("/x/1"))
	c := startNode(t, testConfig("/x/1"))
	connect(t, ctx, b, hub)
	connect(t, ctx, c, hub)

	// Wait for identify so the hub lands in both routing tables.
	waitFor(t, b, func(ev node.NodeEvent) bool {
		ir, ok := ev.(node.IdentifyReceived)
		return ok && ir.Peer == hub.client.PeerID()
	})
	waitFor(t, c, func(ev node.NodeEvent) bool {
		ir, ok := ev.(node.IdentifyReceived)
		return ok && ir.Peer == hub.client.PeerID()
	})

	require.Eventually(t, func() bool {
		_, err := b.client.Bootstrap(ctx)
		return err == nil
	}, 20*time.Second, 500*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := c.client.Bootstrap(ctx)
		return err == nil
	}, 20*time.Second, 500*time.Millisecond)

	key := engine.RecordKey("e2e-record")
	value := []byte{0x01, 0x02}
	_, err := c.client.PutRecord(ctx, engine.Record{Key: key, Value: value}, engine.QuorumOne)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := b.client.GetRecord(ctx, key)
		return err == nil && string(res.Record.Value) == string(value)
	}, 30*time.Second, time.Second)
}

func TestStopProvideIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("e2e")
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	a := startNode(t, testConfig("/x/1"))
	// Never provided: still a clean no-op.
	require.NoError(t, a.client.StopProvide(ctx, engine.RecordKey("never-provided")))
	require.NoError(t, a.client.StopProvide(ctx, engine.RecordKey("never-provided")))
}

func TestMdnsDiscovery(t *testing.T) {
	if testing.Short() {
		t.Skip("e2e")
	}
	if os.Getenv("SWARM_E2E_MDNS") == "" {
		t.Skip("set SWARM_E2E_MDNS=1 to run multicast-dependent tests")
	}
	_, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	cfg := testConfig("/x/1").WithMDNS(true)
	a := startNode(t, cfg)
	b := startNode(t, cfg)

	waitFor(t, a, func(ev node.NodeEvent) bool {
		pc, ok := ev.(node.PeerConnected)
		return ok && pc.Peer == b.client.PeerID()
	})
	waitFor(t, b, func(ev node.NodeEvent) bool {
		pc, ok := ev.(node.PeerConnected)
		return ok && pc.Peer == a.client.PeerID()
	})
}
