// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// tunnelProtocol is the websocket subprotocol of the http tunnel.
const tunnelProtocol = "orb-tunnel-1"

// httpFactory tunnels frames through a websocket upgraded HTTP request,
// optionally via an HTTP proxy. https adds TLS.
type httpFactory struct {
	scheme string
	cfg    TransportConfig
}

func newHTTPFactory(scheme string) FactoryConstructor {
	return func(cfg TransportConfig) ManagedConnectionFactory {
		return &httpFactory{scheme: scheme, cfg: cfg}
	}
}

func (f *httpFactory) Scheme() string { return f.scheme }

func (f *httpFactory) NewRequestInfo(p Properties) (RequestInfo, error) {
	if f.scheme == SchemeHTTPS {
		return HTTPSRequestInfoFromProperties(p)
	}
	return HTTPRequestInfoFromProperties(p)
}

func (f *httpFactory) httpParams(info RequestInfo) (*HTTPRequestInfo, *TLSProperties, error) {
	switch i := info.(type) {
	case *HTTPRequestInfo:
		if f.scheme == SchemeHTTP {
			return i, nil, nil
		}
	case *HTTPSRequestInfo:
		if f.scheme == SchemeHTTPS {
			t := i.TLS()
			return &i.HTTPRequestInfo, &t, nil
		}
	}
	return nil, nil, fmt.Errorf("orb: %s transport cannot use %T", f.scheme, info)
}

func tunnelURL(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case SchemeHTTP:
		u.Scheme = "ws"
	case SchemeHTTPS:
		u.Scheme = "wss"
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func (f *httpFactory) CreateManagedConnection(ctx context.Context, info RequestInfo, principal *Principal) (ManagedConnection, error) {
	h, tlsProps, err := f.httpParams(info)
	if err != nil {
		return nil, err
	}
	target, err := tunnelURL(h.URI())
	if err != nil {
		return nil, err
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: f.cfg.DialTimeout,
		Subprotocols:     []string{tunnelProtocol},
	}
	if p := h.proxyURL(); p != nil {
		dialer.Proxy = http.ProxyURL(p)
	}
	if tlsProps != nil {
		if dialer.TLSClientConfig, err = clientTLSConfig(*tlsProps, h.URI()); err != nil {
			return nil, connectivityError("tls config", info.URI(), err)
		}
	}

	ws, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, connectivityError("dial", info.URI(), err)
	}
	return connect(ctx, f.cfg, newWSStream(ws), info, principal)
}

func (f *httpFactory) CreateManagedConnectionAcceptor(auth Authenticator, info RequestInfo) (ManagedConnectionAcceptor, error) {
	h, tlsProps, err := f.httpParams(info)
	if err != nil {
		return nil, err
	}
	var tlsCfg *tls.Config
	if tlsProps != nil {
		if tlsCfg, err = serverTLSConfig(*tlsProps); err != nil {
			return nil, connectivityError("tls config", info.URI(), err)
		}
	}
	addr, err := bindAddress(h.URI(), h.AlternativeHost())
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
	u, _ := url.Parse(bound.URI())
	tl := newTunnelListener(l, u.Path, f.cfg.Logger)
	return newAcceptor(f.cfg, auth, bound, tl), nil
}

// tunnelListener is an HTTP server whose websocket upgrades become
// accepted streams.
type tunnelListener struct {
	server   *http.Server
	path     string
	upgrader websocket.Upgrader
	conns    chan messageStream
	done     chan struct{}
	once     sync.Once
	serveErr error
}

func newTunnelListener(l net.Listener, path string, logger *zap.Logger) *tunnelListener {
	if path == "" {
		path = "/"
	}
	t := &tunnelListener{
		path: path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{tunnelProtocol},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(chan messageStream),
		done:  make(chan struct{}),
	}
	t.server = &http.Server{
		Handler:           t,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}
	go func() {
		err := t.server.Serve(l)
		if !errors.Is(err, http.ErrServerClosed) {
			t.serveErr = err
		}
		t.close()
	}()
	return t
}

func (t *tunnelListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != t.path {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !contains(websocket.Subprotocols(r), tunnelProtocol) {
		http.Error(w, "unsupported tunnel protocol", http.StatusNotFound)
		return
	}
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case t.conns <- newWSStream(ws):
	case <-t.done:
		ws.Close()
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (t *tunnelListener) accept() (messageStream, error) {
	select {
	case s := <-t.conns:
		return s, nil
	case <-t.done:
		if t.serveErr != nil {
			return nil, t.serveErr
		}
		return nil, net.ErrClosed
	}
}

func (t *tunnelListener) close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.server.Close()
	})
	return err
}

// wsStream maps one frame to one binary websocket message.
type wsStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSStream(conn *websocket.Conn) *wsStream {
	conn.SetReadLimit(maxFrameLen)
	return &wsStream{conn: conn}
}

func (s *wsStream) ReadMessage() ([]byte, error) {
	mt, msg, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, protocolErrorf("unexpected websocket message type %d", mt)
	}
	return msg, nil
}

func (s *wsStream) WriteMessage(msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, msg)
}

func (s *wsStream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *wsStream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }
func (s *wsStream) RemoteAddr() string                 { return s.conn.RemoteAddr().String() }
func (s *wsStream) Close() error                       { return s.conn.Close() }
