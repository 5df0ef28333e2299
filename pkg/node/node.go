// Package node assembles the engine, the event loop and the client, and
// defines the events a node surfaces to its application.
package node

import (
	"context"
	stderrors "errors"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/yexiyue/swarm-p2p/pkg/client"
	"github.com/yexiyue/swarm-p2p/pkg/command"
	"github.com/yexiyue/swarm-p2p/pkg/config"
	"github.com/yexiyue/swarm-p2p/pkg/engine"
	"github.com/yexiyue/swarm-p2p/pkg/logging"
	"github.com/yexiyue/swarm-p2p/pkg/pending"
)

const (
	commandChannelSize = 32
	eventChannelSize   = 64
)

// Option configures Start beyond the node config.
type Option func(*options)

type options struct {
	log *logging.ColoredLogger
}

// WithLogger routes node, loop and engine logging through the given logger.
// The default discards everything.
func WithLogger(log *logging.ColoredLogger) Option {
	return func(o *options) { o.log = log }
}

// Start builds and runs a node: it constructs the network engine from the
// keypair and config, binds the listen addresses, spawns the event loop and
// the reply-slot evictor, and returns the client plus the node-event
// stream. Req and Resp are the application's request-response message
// types; both must round-trip through CBOR.
//
// The event channel is closed when the node shuts down (Client.Close).
func Start[Req, Resp any](key crypto.PrivKey, cfg config.Config, opts ...Option) (*client.Client[Req, Resp], <-chan NodeEvent, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.NewNopLogger()
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, nil, stderrors.Join(errs...)
	}

	eng, err := engine.New(key, cfg, o.log)
	if err != nil {
		return nil, nil, err
	}
	if err := eng.Start(); err != nil {
		_ = eng.Close()
		return nil, nil, err
	}
	eng.ConnectBootstrapPeers()

	commands := make(chan command.Envelope, commandChannelSize)
	events := make(chan NodeEvent, eventChannelSize)
	stop := make(chan struct{})
	loopDone := make(chan struct{})

	registry := pending.New[*engine.ResponseChannel](cfg.PendingReplyTTL)

	loop := &eventLoop[Req]{
		eng:             eng,
		commands:        commands,
		events:          events,
		stop:            stop,
		registry:        registry,
		protocolVersion: cfg.ProtocolVersion,
		log:             o.log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	registry.StartEvictor(ctx, func(ch *engine.ResponseChannel) { ch.Abort() })

	go func() {
		defer close(loopDone)
		defer close(events)
		defer cancel()
		defer eng.Close()
		loop.run(ctx)
	}()

	return client.New[Req, Resp](commands, loopDone, registry, eng.LocalID(), stop), events, nil
}
