// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ManagedConnectionFactory creates outbound connections and acceptors for
// one transport. Every transport honours the same connect, accept and
// authenticate semantics; only its RequestInfo differs.
type ManagedConnectionFactory interface {
	Scheme() string
	// NewRequestInfo reads the transport parameters from p.
	NewRequestInfo(p Properties) (RequestInfo, error)
	// CreateManagedConnection connects and completes the handshake as
	// principal. Network and TLS failures are ConnectivityErrors, a rejected
	// principal is an AccessError.
	CreateManagedConnection(ctx context.Context, info RequestInfo, principal *Principal) (ManagedConnection, error)
	// CreateManagedConnectionAcceptor binds a listener. Connections it
	// accepts are authenticated with auth before reaching the handler.
	CreateManagedConnectionAcceptor(auth Authenticator, info RequestInfo) (ManagedConnectionAcceptor, error)
}

// TransportConfig is shared by the factories of one ORB.
type TransportConfig struct {
	Logger           *zap.Logger
	ORBID            string
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration

	metrics *metrics
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return c
}

// FactoryConstructor builds the factory of a transport for one ORB.
type FactoryConstructor func(cfg TransportConfig) ManagedConnectionFactory

var (
	transportsMu sync.RWMutex
	transports   = map[string]FactoryConstructor{
		SchemeTCP:    newSocketFactory(SchemeTCP),
		SchemeTCPS:   newSocketFactory(SchemeTCPS),
		SchemeHTTP:   newHTTPFactory(SchemeHTTP),
		SchemeHTTPS:  newHTTPFactory(SchemeHTTPS),
		SchemeInProc: newInProcFactory,
		SchemeGRPC:   newGRPCFactory,
	}
)

// RegisterTransport adds or replaces the transport serving scheme.
func RegisterTransport(scheme string, c FactoryConstructor) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[scheme] = c
}

// AvailableTransports returns the registered schemes, sorted.
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a transport is available
func HasTransport(name string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	_, ok := transports[name]
	return ok
}

func newFactory(scheme string, cfg TransportConfig) (ManagedConnectionFactory, error) {
	transportsMu.RLock()
	c, ok := transports[scheme]
	transportsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("orb: unsupported scheme %q", scheme)
	}
	return c(cfg.withDefaults()), nil
}

// connect runs the client handshake over a freshly opened stream.
func connect(ctx context.Context, cfg TransportConfig, s messageStream, info RequestInfo, principal *Principal) (ManagedConnection, error) {
	c := newManagedConn(s, info, cfg.Logger)
	hctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := clientHandshake(hctx, c, principal, cfg.ORBID); err != nil {
		c.Close()
		return nil, err
	}
	c.logger.Debug("connected", zap.String("uri", info.URI()), zap.Stringer("principal", principal))
	return c, nil
}

// rebind returns a copy of info advertising the port addr is bound to.
func rebind(info RequestInfo, addr net.Addr) RequestInfo {
	switch i := info.(type) {
	case *SocketRequestInfo:
		c := *i
		c.uri = withPort(i.uri, addr)
		return &c
	case *TLSRequestInfo:
		c := *i
		c.uri = withPort(i.uri, addr)
		return &c
	case *HTTPRequestInfo:
		c := *i
		c.uri = withPort(i.uri, addr)
		return &c
	case *HTTPSRequestInfo:
		c := *i
		c.uri = withPort(i.uri, addr)
		return &c
	}
	return info
}
