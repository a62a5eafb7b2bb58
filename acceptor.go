// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	tec "github.com/jbenet/go-temp-err-catcher"
	"go.uber.org/zap"
)

// Executor runs units of work with bounded concurrency.
type Executor interface {
	Submit(fn func(ctx context.Context)) error
}

// ConnectionHandler receives every authenticated inbound connection and
// owns it from then on.
type ConnectionHandler func(c ManagedConnection)

// ManagedConnectionAcceptor listens on a transport. Serve runs the accept
// loop; negotiation and authentication of each connection happen on the
// executor, and rejected connections never reach the handler.
type ManagedConnectionAcceptor interface {
	// URI is the advertised uri, with the real port when bound to port 0.
	URI() string
	RequestInfo() RequestInfo
	Serve(ctx context.Context, exec Executor, handler ConnectionHandler) error
	Close() error
}

// rawListener yields unauthenticated streams of one transport.
type rawListener interface {
	accept() (messageStream, error)
	close() error
}

// acceptor is the accept loop shared by every transport.
type acceptor struct {
	info   RequestInfo
	l      rawListener
	auth   Authenticator
	cfg    TransportConfig
	logger *zap.Logger
	closed atomic.Bool
}

var _ ManagedConnectionAcceptor = (*acceptor)(nil)

func newAcceptor(cfg TransportConfig, auth Authenticator, info RequestInfo, l rawListener) *acceptor {
	if auth == nil {
		auth = AllowAll
	}
	return &acceptor{
		info:   info,
		l:      l,
		auth:   auth,
		cfg:    cfg,
		logger: cfg.Logger.Named("acceptor").With(zap.String("uri", info.URI())),
	}
}

func (a *acceptor) URI() string              { return a.info.URI() }
func (a *acceptor) RequestInfo() RequestInfo { return a.info }

func (a *acceptor) Serve(ctx context.Context, exec Executor, handler ConnectionHandler) error {
	a.logger.Info("accepting connections")
	stop := context.AfterFunc(ctx, func() { a.Close() })
	defer stop()

	var catcher tec.TempErrCatcher
	for {
		s, err := a.l.accept()
		if err != nil {
			if a.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if catcher.IsTemporary(err) {
				a.logger.Warn("temporary accept error", zap.Error(err))
				continue
			}
			return connectivityError("accept", a.info.URI(), err)
		}
		catcher.Reset()

		err = exec.Submit(func(ctx context.Context) {
			a.negotiate(ctx, s, handler)
		})
		if err != nil {
			s.Close()
			if errors.Is(err, ErrPoolClosed) {
				return nil
			}
			a.logger.Warn("dropping connection", zap.Error(err))
		}
	}
}

// negotiate completes the handshake of an accepted stream and hands the
// authenticated connection over.
func (a *acceptor) negotiate(ctx context.Context, s messageStream, handler ConnectionHandler) {
	c := newManagedConn(s, a.info, a.cfg.Logger)
	hctx, cancel := context.WithTimeout(ctx, a.cfg.HandshakeTimeout)
	err := serverHandshake(hctx, c, a.auth, a.cfg.ORBID)
	cancel()
	if err != nil {
		c.Close()
		if a.cfg.metrics != nil {
			a.cfg.metrics.rejected.WithLabelValues(a.info.Scheme()).Inc()
		}
		a.logger.Debug("connection rejected", zap.String("remote", s.RemoteAddr()), zap.Error(err))
		return
	}
	a.logger.Debug("connection accepted", zap.Stringer("conn", c.ID()), zap.Stringer("principal", c.Principal()))
	handler(c)
}

func (a *acceptor) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.logger.Info("closing acceptor")
	return a.l.close()
}

// netListener adapts a net.Listener; tls listeners complete their
// handshake on the first read, inside negotiate.
type netListener struct {
	l net.Listener
}

func (l *netListener) accept() (messageStream, error) {
	conn, err := l.l.Accept()
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
	}
	return newNetStream(conn), nil
}

func (l *netListener) close() error { return l.l.Close() }
