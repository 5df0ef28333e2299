// swarm-bootstrap runs an always-on bootstrap node: DHT in server mode,
// relay service enabled, persistent identity. Other nodes list its address
// under bootstrap_peers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yexiyue/swarm-p2p/pkg/config"
	"github.com/yexiyue/swarm-p2p/pkg/identity"
	"github.com/yexiyue/swarm-p2p/pkg/logging"
	"github.com/yexiyue/swarm-p2p/pkg/node"
)

// Message is the bootstrap node's request-response payload. Bootstrap nodes
// only route and relay; they answer application requests with an empty
// message.
type Message struct {
	Text string `cbor:"text"`
}

func main() {
	var (
		dataDir    = flag.String("data", "./data/bootstrap", "Data directory")
		port       = flag.Int("port", 4001, "Listen port")
		configPath = flag.String("config", "", "Optional YAML config file")
		protocol   = flag.String("protocol", "/swarm-p2p/1.0.0", "Protocol version")
		verbose    = flag.Bool("verbose", false, "Debug logging")
	)
	flag.Parse()

	level := zapcore.InfoLevel
	if *verbose {
		level = zapcore.DebugLevel
	}
	logger, err := logging.NewColoredLogger(level, true)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			logger.ComponentError(logging.ComponentNode, "failed to load config", zap.Error(err))
			os.Exit(1)
		}
	}
	cfg.ProtocolVersion = *protocol
	cfg.AgentVersion = "swarm-bootstrap/1.0.0"
	cfg.ListenAddresses = []string{
		fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", *port),
		fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", *port),
	}
	// A bootstrap node must answer DHT queries from the start; waiting for
	// AutoNAT confirmation leaves it useless on closed networks.
	cfg.KadServerMode = true
	cfg.EnableRelayService = true
	cfg.EnableMDNS = false

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			logger.ComponentError(logging.ComponentNode, "config error", zap.Error(e))
		}
		os.Exit(1)
	}

	info, err := identity.LoadOrCreate(filepath.Join(*dataDir, "identity.key"))
	if err != nil {
		logger.ComponentError(logging.ComponentNode, "failed to load identity", zap.Error(err))
		os.Exit(1)
	}
	logger.ComponentInfo(logging.ComponentNode, "loaded identity",
		zap.String("peer_id", info.PeerID.String()))

	cli, events, err := node.Start[Message, Message](info.PrivateKey, cfg, node.WithLogger(logger))
	if err != nil {
		logger.ComponentError(logging.ComponentNode, "failed to start node", zap.Error(err))
		os.Exit(1)
	}
	defer cli.Close()

	go func() {
		for ev := range events {
			switch e := ev.(type) {
			case node.Listening:
				logger.ComponentInfo(logging.ComponentNode, "listening",
					zap.String("addr", fmt.Sprintf("%s/p2p/%s", e.Addr, cli.PeerID())))
			case node.PeerConnected:
				logger.ComponentInfo(logging.ComponentNode, "peer connected",
					zap.String("peer", e.Peer.String()))
			case node.PeerDisconnected:
				logger.ComponentInfo(logging.ComponentNode, "peer disconnected",
					zap.String("peer", e.Peer.String()))
			case node.IdentifyReceived:
				logger.ComponentDebug(logging.ComponentNode, "identify",
					zap.String("peer", e.Peer.String()),
					zap.String("agent", e.AgentVersion),
					zap.String("protocol", e.ProtocolVersion))
			case node.InboundRequest[Message]:
				// Nothing meaningful to answer; reply empty so the remote
				// does not wait out its timeout.
				go func() {
					_ = cli.SendResponse(context.Background(), e.SlotID, Message{})
				}()
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.ComponentInfo(logging.ComponentNode, "shutting down")
}
