package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/yexiyue/swarm-p2p/pkg/logging"
)

// Wire format: one message per substream. The sender writes the whole CBOR
// body and closes its write side; the receiver reads to end-of-stream. A
// request-response exchange uses one fresh substream: requester writes then
// half-closes, responder reads to EOF, writes the response, closes; the
// requester reads the response to EOF.

var errResponseSent = errors.New("response channel already used")

// ResponseChannel is the one-shot capability to answer an inbound request.
// It owns the inbound substream. Not safe for concurrent shared use; it is
// parked in the pending registry until the application answers or the TTL
// evicts it.
type ResponseChannel struct {
	mu     sync.Mutex
	stream network.Stream
	used   bool
}

func newResponseChannel(s network.Stream) *ResponseChannel {
	return &ResponseChannel{stream: s}
}

// send writes the response body and closes the stream. At most one send
// succeeds.
func (c *ResponseChannel) send(payload []byte) error {
	c.mu.Lock()
	if c.used {
		c.mu.Unlock()
		return errResponseSent
	}
	c.used = true
	s := c.stream
	c.mu.Unlock()

	if _, err := s.Write(payload); err != nil {
		_ = s.Reset()
		return err
	}
	return s.Close()
}

// Abort resets the stream without answering. Used on eviction and on
// undecodable requests.
func (c *ResponseChannel) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.used {
		return
	}
	c.used = true
	_ = c.stream.Reset()
}

// SendResponse answers a parked inbound request. The write happens off the
// calling goroutine; failures are logged, not returned, because the remote
// gives up on its own timeout either way.
func (e *Engine) SendResponse(ch *ResponseChannel, payload []byte) {
	go func() {
		if err := ch.send(payload); err != nil {
			e.log.ComponentWarn(logging.ComponentEngine, "failed to send response", zap.Error(err))
		}
	}()
}

// SendRequest opens a fresh substream to the peer and performs one exchange.
// The returned id matches the eventual ResponseReceived or OutboundFailure
// event.
func (e *Engine) SendRequest(p peer.ID, payload []byte) RequestID {
	e.nextRequestID++
	id := RequestID(e.nextRequestID)
	go e.doRequest(id, p, payload)
	return id
}

func (e *Engine) doRequest(id RequestID, p peer.ID, payload []byte) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RequestTimeout)
	defer cancel()

	s, err := e.host.NewStream(ctx, p, e.protocolID)
	if err != nil {
		e.emit(OutboundFailure{Peer: p, RequestID: id, Err: err})
		return
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}

	if _, err := s.Write(payload); err != nil {
		_ = s.Reset()
		e.emit(OutboundFailure{Peer: p, RequestID: id, Err: err})
		return
	}
	if err := s.CloseWrite(); err != nil {
		_ = s.Reset()
		e.emit(OutboundFailure{Peer: p, RequestID: id, Err: err})
		return
	}

	resp, err := readAll(s, e.cfg.MaxResponseSize)
	if err != nil {
		_ = s.Reset()
		e.emit(OutboundFailure{Peer: p, RequestID: id, Err: err})
		return
	}
	_ = s.Close()
	e.emit(ResponseReceived{Peer: p, RequestID: id, Payload: resp})
}

// handleIncoming is the stream handler for the request protocol. It runs on
// a libp2p goroutine: it only reads the request body and hands the stream
// off through an event.
func (e *Engine) handleIncoming(s network.Stream) {
	payload, err := readAll(s, e.cfg.MaxRequestSize)
	if err != nil {
		e.log.ComponentDebug(logging.ComponentEngine, "dropping inbound request",
			zap.String("peer", s.Conn().RemotePeer().String()), zap.Error(err))
		_ = s.Reset()
		return
	}
	e.emit(InboundMessage{
		Peer:    s.Conn().RemotePeer(),
		Payload: payload,
		Reply:   newResponseChannel(s),
	})
}

// readAll reads to end-of-stream, refusing bodies over the limit.
func readAll(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("message exceeds %d byte limit", limit)
	}
	return data, nil
}
