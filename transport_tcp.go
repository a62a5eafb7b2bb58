// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// socketFactory serves tcp and, with TLS material, tcps.
type socketFactory struct {
	scheme string
	cfg    TransportConfig
}

func newSocketFactory(scheme string) FactoryConstructor {
	return func(cfg TransportConfig) ManagedConnectionFactory {
		return &socketFactory{scheme: scheme, cfg: cfg}
	}
}

func (f *socketFactory) Scheme() string { return f.scheme }

func (f *socketFactory) NewRequestInfo(p Properties) (RequestInfo, error) {
	if f.scheme == SchemeTCPS {
		return TLSRequestInfoFromProperties(p)
	}
	return SocketRequestInfoFromProperties(p)
}

// socketParams extracts what both roles need from a tcp or tcps info.
func (f *socketFactory) socketParams(info RequestInfo) (*SocketRequestInfo, *TLSProperties, error) {
	switch i := info.(type) {
	case *SocketRequestInfo:
		if f.scheme == SchemeTCP && i.Scheme() == SchemeTCP {
			return i, nil, nil
		}
	case *TLSRequestInfo:
		if f.scheme == SchemeTCPS {
			t := i.TLS()
			return &i.SocketRequestInfo, &t, nil
		}
	}
	return nil, nil, fmt.Errorf("orb: %s transport cannot use %T", f.scheme, info)
}

func (f *socketFactory) CreateManagedConnection(ctx context.Context, info RequestInfo, principal *Principal) (ManagedConnection, error) {
	sock, tlsProps, err := f.socketParams(info)
	if err != nil {
		return nil, err
	}
	addr, err := hostPort(sock.URI())
	if err != nil {
		return nil, err
	}
	var tlsCfg *tls.Config
	if tlsProps != nil {
		if tlsCfg, err = clientTLSConfig(*tlsProps, sock.URI()); err != nil {
			return nil, connectivityError("tls config", info.URI(), err)
		}
	}

	dialer := &net.Dialer{
		Timeout:   f.cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, connectivityError("dial", info.URI(), err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	if tlsCfg != nil {
		tc := tls.Client(conn, tlsCfg)
		hctx, cancel := context.WithTimeout(ctx, f.cfg.HandshakeTimeout)
		err := tc.HandshakeContext(hctx)
		cancel()
		if err != nil {
			conn.Close()
			return nil, connectivityError("tls handshake", info.URI(), err)
		}
		conn = tc
	}
	return connect(ctx, f.cfg, newNetStream(conn), info, principal)
}

func (f *socketFactory) CreateManagedConnectionAcceptor(auth Authenticator, info RequestInfo) (ManagedConnectionAcceptor, error) {
	sock, tlsProps, err := f.socketParams(info)
	if err != nil {
		return nil, err
	}
	var tlsCfg *tls.Config
	if tlsProps != nil {
		if tlsCfg, err = serverTLSConfig(*tlsProps); err != nil {
			return nil, connectivityError("tls config", info.URI(), err)
		}
	}
	addr, err := bindAddress(sock.URI(), sock.AlternativeHost())
	if err != nil {
		return nil, err
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, connectivityError("listen", info.URI(), err)
	}
	bound := rebind(info, l.Addr())
	if tlsCfg != nil {
		l = tls.NewListener(l, tlsCfg)
	}
	return newAcceptor(f.cfg, auth, bound, &netListener{l: l}), nil
}
