// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConnID identifies a managed connection within its ORB.
type ConnID uuid.UUID

func (id ConnID) String() string { return uuid.UUID(id).String() }

// ConnState is the lifecycle state of a managed connection. It only moves
// forward.
type ConnState int32

const (
	ConnConnecting ConnState = iota
	ConnConnected
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "CONNECTING"
	case ConnConnected:
		return "CONNECTED"
	case ConnClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ManagedConnection is one bidirectional channel over a transport carrying
// framed invocations. Closing is final: every pending and later Send or
// Receive fails.
type ManagedConnection interface {
	ID() ConnID
	Transport() string
	RequestInfo() RequestInfo
	State() ConnState
	// Principal is the authenticated identity of the connection, nil for
	// anonymous ones and before the handshake completed.
	Principal() *Principal
	// RemoteORB is the id of the ORB on the other end.
	RemoteORB() string
	Send(ctx context.Context, f *Frame) error
	Receive(ctx context.Context) (*Frame, error)
	Close() error
	Done() <-chan struct{}
}

type managedConn struct {
	id        ConnID
	info      RequestInfo
	stream    messageStream
	logger    *zap.Logger
	state     atomic.Int32
	principal *Principal
	remoteORB string

	sendMu    sync.Mutex
	recvMu    sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ ManagedConnection = (*managedConn)(nil)

func newManagedConn(stream messageStream, info RequestInfo, logger *zap.Logger) *managedConn {
	c := &managedConn{
		id:     ConnID(uuid.New()),
		info:   info,
		stream: stream,
		done:   make(chan struct{}),
	}
	c.logger = logger.With(zap.Stringer("conn", c.id), zap.String("remote", stream.RemoteAddr()))
	return c
}

func (c *managedConn) ID() ConnID               { return c.id }
func (c *managedConn) Transport() string        { return c.info.Scheme() }
func (c *managedConn) RequestInfo() RequestInfo { return c.info }
func (c *managedConn) State() ConnState         { return ConnState(c.state.Load()) }
func (c *managedConn) Principal() *Principal    { return c.principal }
func (c *managedConn) RemoteORB() string        { return c.remoteORB }
func (c *managedConn) Done() <-chan struct{}    { return c.done }

func (c *managedConn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(ConnClosed))
		close(c.done)
		c.closeErr = c.stream.Close()
		c.logger.Debug("connection closed")
	})
	return c.closeErr
}

// abortOn closes the connection when ctx ends while an operation is
// blocked. Closing is the only way to abort an operation in flight.
func (c *managedConn) abortOn(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() { c.Close() })
}

func (c *managedConn) Send(ctx context.Context, f *Frame) error {
	if c.State() == ConnClosed {
		return connectivityError("send", c.info.URI(), ErrConnClosed)
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	stop := c.abortOn(ctx)
	defer stop()
	if d, ok := ctx.Deadline(); ok {
		_ = c.stream.SetWriteDeadline(d)
		defer c.stream.SetWriteDeadline(time.Time{})
	}
	if err := c.stream.WriteMessage(f.marshal()); err != nil {
		return c.fail("send", ctx, err)
	}
	return nil
}

func (c *managedConn) Receive(ctx context.Context) (*Frame, error) {
	if c.State() == ConnClosed {
		return nil, connectivityError("receive", c.info.URI(), ErrConnClosed)
	}
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	stop := c.abortOn(ctx)
	defer stop()
	if d, ok := ctx.Deadline(); ok {
		_ = c.stream.SetReadDeadline(d)
		defer c.stream.SetReadDeadline(time.Time{})
	}
	msg, err := c.stream.ReadMessage()
	if err != nil {
		return nil, c.fail("receive", ctx, err)
	}
	f, err := unmarshalFrame(msg)
	if err != nil {
		return nil, c.fail("receive", ctx, err)
	}
	return f, nil
}

// fail closes the connection and classifies err. Every I/O failure leaves
// the stream in an unknown position, so the connection cannot be reused.
func (c *managedConn) fail(op string, ctx context.Context, err error) error {
	wasClosed := c.State() == ConnClosed
	c.Close()
	var pe *ProtocolError
	if errors.As(err, &pe) {
		c.logger.Warn("protocol violation", zap.String("op", op), zap.Error(err))
		return err
	}
	if ctx.Err() != nil {
		err = ctx.Err()
	} else if wasClosed {
		err = ErrConnClosed
	}
	return connectivityError(op, c.info.URI(), err)
}

// clientHandshake claims principal and waits for the acceptor's verdict.
// A rejection is an AccessError.
func clientHandshake(ctx context.Context, c *managedConn, principal *Principal, orbID string) error {
	h := &hello{version: protocolVersion, principal: principal, orb: orbID}
	if err := c.Send(ctx, &Frame{Type: FrameHello, Body: h.marshal()}); err != nil {
		return err
	}
	f, err := c.Receive(ctx)
	if err != nil {
		return err
	}
	switch f.Type {
	case FrameHelloAck:
		var ack helloAck
		if err := ack.unmarshal(f.Body); err != nil {
			c.Close()
			return err
		}
		c.principal = principal
		c.remoteORB = ack.orb
		c.state.Store(int32(ConnConnected))
		return nil
	case FrameReject:
		var r reject
		_ = r.unmarshal(f.Body)
		c.Close()
		return &AccessError{Reason: r.reason}
	default:
		c.Close()
		return protocolErrorf("expected hello-ack, got %s", f.Type)
	}
}

// serverHandshake reads the client hello and authenticates the claimed
// principal. Missing and wrong credentials are rejected the same way.
func serverHandshake(ctx context.Context, c *managedConn, auth Authenticator, orbID string) error {
	f, err := c.Receive(ctx)
	if err != nil {
		return err
	}
	if f.Type != FrameHello {
		c.Close()
		return protocolErrorf("expected hello, got %s", f.Type)
	}
	var h hello
	if err := h.unmarshal(f.Body); err != nil {
		c.Close()
		return err
	}
	if h.version != protocolVersion {
		c.sendReject(ctx, "unsupported protocol version")
		return protocolErrorf("unsupported protocol version %d", h.version)
	}
	p, err := auth.Authenticate(ctx, h.principal)
	if err != nil {
		c.logger.Debug("authentication failed", zap.Stringer("principal", h.principal), zap.Error(err))
		c.sendReject(ctx, errAuthFailed.Error())
		return &AccessError{Reason: errAuthFailed.Error()}
	}
	c.principal = p
	c.remoteORB = h.orb
	ack := &helloAck{orb: orbID}
	if err := c.Send(ctx, &Frame{Type: FrameHelloAck, Body: ack.marshal()}); err != nil {
		return err
	}
	c.state.Store(int32(ConnConnected))
	return nil
}

func (c *managedConn) sendReject(ctx context.Context, reason string) {
	r := &reject{reason: reason}
	_ = c.Send(ctx, &Frame{Type: FrameReject, Body: r.marshal()})
	c.Close()
}

const hangUpTimeout = time.Second

var requestIDs atomic.Uint32

// roundTrip sends one request and waits for its correlated response. Only
// one request is in flight per connection; a response with another id is a
// protocol violation.
func roundTrip(ctx context.Context, c ManagedConnection, body []byte) ([]byte, error) {
	id := requestIDs.Add(1)
	if err := c.Send(ctx, &Frame{Type: FrameRequest, ID: id, Body: body}); err != nil {
		return nil, err
	}
	f, err := c.Receive(ctx)
	if err != nil {
		return nil, err
	}
	if f.Type != FrameResponse || f.ID != id {
		c.Close()
		return nil, protocolErrorf("expected response %d, got %s %d", id, f.Type, f.ID)
	}
	return f.Body, nil
}

// hangUp tells the peer an idle connection is going away, then closes it.
func hangUp(c ManagedConnection) error {
	if c.State() == ConnClosed {
		return c.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), hangUpTimeout)
	defer cancel()
	_ = c.Send(ctx, &Frame{Type: FrameClose})
	return c.Close()
}
