package config

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Config holds the construction-time options for a node. Zero values are
// filled in by Default; callers usually start from Default and chain the
// With* builders or load a YAML file.
type Config struct {
	// ProtocolVersion is the identify protocol version (e.g. "/myapp/1.0.0").
	// Peers advertising a different value are never admitted to the DHT
	// routing table, which is how applications sharing this library obtain
	// disjoint DHT networks.
	ProtocolVersion string `yaml:"protocol_version"`

	// AgentVersion is advertised via identify (e.g. "myapp/1.0.0;os=linux").
	AgentVersion string `yaml:"agent_version"`

	// ListenAddresses are the multiaddrs to bind (e.g. "/ip4/0.0.0.0/tcp/0").
	ListenAddresses []string `yaml:"listen_addresses"`

	// BootstrapPeers are known-good DHT entry points, as full p2p multiaddrs
	// ("/ip4/1.2.3.4/tcp/4001/p2p/<peerID>").
	BootstrapPeers []string `yaml:"bootstrap_peers"`

	// IdleConnectionTimeout closes connections with no active streams after
	// this duration.
	IdleConnectionTimeout time.Duration `yaml:"idle_connection_timeout"`

	EnableMDNS        bool `yaml:"enable_mdns"`
	EnableRelayClient bool `yaml:"enable_relay_client"`
	EnableDCUtR       bool `yaml:"enable_dcutr"`
	EnableAutoNAT     bool `yaml:"enable_autonat"`

	// EnableRelayService runs a circuit-relay service for other peers.
	// Meant for bootstrap-style nodes with public reachability.
	EnableRelayService bool `yaml:"enable_relay_service"`

	// KadServerMode forces the DHT into server mode regardless of NAT
	// detection. Bootstrap-style nodes must set this; general clients should
	// leave it off and let AutoNAT decide.
	KadServerMode bool `yaml:"kad_server_mode"`

	// PendingReplyTTL bounds how long an unanswered inbound request's reply
	// handle is parked before eviction.
	PendingReplyTTL time.Duration `yaml:"pending_reply_ttl"`

	PingInterval    time.Duration `yaml:"ping_interval"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
	KadQueryTimeout time.Duration `yaml:"kad_query_timeout"`

	// RequestProtocol is the request-response protocol ID
	// (e.g. "/myapp/req/1.0.0").
	RequestProtocol string `yaml:"request_protocol"`

	// RequestTimeout bounds a single outbound request-response exchange.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRequestSize / MaxResponseSize cap a single message each way.
	MaxRequestSize  int64 `yaml:"max_request_size"`
	MaxResponseSize int64 `yaml:"max_response_size"`
}

const (
	DefaultPendingReplyTTL = 60 * time.Second
	DefaultMaxMessageSize  = 1 << 20 // 1 MiB
)

// Default returns a configuration with sensible defaults for a general
// client node.
func Default() Config {
	return Config{
		ProtocolVersion: "/swarm-p2p/1.0.0",
		AgentVersion:    "swarm-p2p/1.0.0",
		ListenAddresses: []string{
			"/ip4/0.0.0.0/tcp/0",
			"/ip4/0.0.0.0/udp/0/quic-v1",
		},
		IdleConnectionTimeout: 60 * time.Second,
		EnableMDNS:            true,
		EnableRelayClient:     true,
		EnableDCUtR:           true,
		EnableAutoNAT:         true,
		KadServerMode:         false,
		PendingReplyTTL:       DefaultPendingReplyTTL,
		PingInterval:          15 * time.Second,
		PingTimeout:           10 * time.Second,
		KadQueryTimeout:       60 * time.Second,
		RequestProtocol:       "/swarm-p2p/req/1.0.0",
		RequestTimeout:        30 * time.Second,
		MaxRequestSize:        DefaultMaxMessageSize,
		MaxResponseSize:       DefaultMaxMessageSize,
	}
}

// New returns a default configuration with the two required versions set.
func New(protocolVersion, agentVersion string) Config {
	c := Default()
	c.ProtocolVersion = protocolVersion
	c.AgentVersion = agentVersion
	return c
}

func (c Config) WithListenAddresses(addrs ...string) Config {
	c.ListenAddresses = addrs
	return c
}

func (c Config) WithBootstrapPeers(addrs ...string) Config {
	c.BootstrapPeers = addrs
	return c
}

func (c Config) WithMDNS(enable bool) Config {
	c.EnableMDNS = enable
	return c
}

func (c Config) WithRelayClient(enable bool) Config {
	c.EnableRelayClient = enable
	return c
}

func (c Config) WithDCUtR(enable bool) Config {
	c.EnableDCUtR = enable
	return c
}

func (c Config) WithAutoNAT(enable bool) Config {
	c.EnableAutoNAT = enable
	return c
}

func (c Config) WithRelayService(enable bool) Config {
	c.EnableRelayService = enable
	return c
}

func (c Config) WithKadServerMode(enable bool) Config {
	c.KadServerMode = enable
	return c
}

func (c Config) WithPendingReplyTTL(ttl time.Duration) Config {
	c.PendingReplyTTL = ttl
	return c
}

func (c Config) WithRequestProtocol(protocol string) Config {
	c.RequestProtocol = protocol
	return c
}

func (c Config) WithIdleConnectionTimeout(d time.Duration) Config {
	c.IdleConnectionTimeout = d
	return c
}

// BootstrapAddrInfos parses BootstrapPeers into AddrInfos, skipping entries
// that fail to parse. Validate reports those entries; this accessor is for
// callers that already validated.
func (c Config) BootstrapAddrInfos() []peer.AddrInfo {
	infos := make([]peer.AddrInfo, 0, len(c.BootstrapPeers))
	for _, s := range c.BootstrapPeers {
		info, err := parseBootstrapPeer(s)
		if err != nil {
			continue
		}
		infos = append(infos, *info)
	}
	return infos
}
