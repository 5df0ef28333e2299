package config

import (
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "bootstrap_peers[0]"
	Message string // e.g., "invalid multiaddr"
	Hint    string // e.g., "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>"
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate checks the entire config. It aggregates all errors and returns
// them, allowing the caller to print every issue at once.
func (c *Config) Validate() []error {
	var errs []error

	if c.ProtocolVersion == "" {
		errs = append(errs, ValidationError{
			Path:    "protocol_version",
			Message: "must not be empty",
			Hint:    `e.g. "/myapp/1.0.0"`,
		})
	} else if !strings.HasPrefix(c.ProtocolVersion, "/") {
		errs = append(errs, ValidationError{
			Path:    "protocol_version",
			Message: "must start with '/'",
			Hint:    `e.g. "/myapp/1.0.0"`,
		})
	}

	if c.AgentVersion == "" {
		errs = append(errs, ValidationError{
			Path:    "agent_version",
			Message: "must not be empty",
			Hint:    `e.g. "myapp/1.0.0"`,
		})
	}

	if len(c.ListenAddresses) == 0 {
		errs = append(errs, ValidationError{
			Path:    "listen_addresses",
			Message: "must contain at least one address",
			Hint:    `e.g. "/ip4/0.0.0.0/tcp/0"`,
		})
	}
	for i, addr := range c.ListenAddresses {
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("listen_addresses[%d]", i),
				Message: fmt.Sprintf("invalid multiaddr: %v", err),
			})
		}
	}

	for i, addr := range c.BootstrapPeers {
		if _, err := parseBootstrapPeer(addr); err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("bootstrap_peers[%d]", i),
				Message: err.Error(),
				Hint:    "expected /ip{4,6}/.../tcp/<port>/p2p/<peerID>",
			})
		}
	}

	if c.RequestProtocol == "" || !strings.HasPrefix(c.RequestProtocol, "/") {
		errs = append(errs, ValidationError{
			Path:    "request_protocol",
			Message: "must be a non-empty path starting with '/'",
			Hint:    `e.g. "/myapp/req/1.0.0"`,
		})
	}

	if c.PendingReplyTTL <= 0 {
		errs = append(errs, ValidationError{
			Path:    "pending_reply_ttl",
			Message: "must be positive",
		})
	}
	if c.MaxRequestSize <= 0 {
		errs = append(errs, ValidationError{
			Path:    "max_request_size",
			Message: "must be positive",
		})
	}
	if c.MaxResponseSize <= 0 {
		errs = append(errs, ValidationError{
			Path:    "max_response_size",
			Message: "must be positive",
		})
	}

	return errs
}

func parseBootstrapPeer(s string) (*peer.AddrInfo, error) {
	ma, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return nil, fmt.Errorf("invalid multiaddr: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return nil, fmt.Errorf("missing /p2p/<peerID> component: %w", err)
	}
	return info, nil
}
