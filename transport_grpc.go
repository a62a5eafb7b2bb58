// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// grpcTunnelMethod is the single bidirectional streaming method frames
// travel on. No generated service is needed: the server catches it as an
// unknown service.
const grpcTunnelMethod = "/orb.Tunnel/Connect"

var grpcTunnelDesc = &grpc.StreamDesc{
	StreamName:    "Connect",
	ServerStreams: true,
	ClientStreams: true,
}

// frameCodec passes frames through gRPC untouched.
type frameCodec struct{}

func (frameCodec) Name() string { return "orb-frame" }

func (frameCodec) Marshal(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	default:
		return nil, fmt.Errorf("orb-frame codec: unexpected %T", v)
	}
}

func (frameCodec) Unmarshal(data []byte, v interface{}) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("orb-frame codec: unexpected %T", v)
	}
	*b = append([]byte(nil), data...)
	return nil
}

// grpcFactory tunnels frames through a gRPC bidirectional stream.
type grpcFactory struct {
	cfg TransportConfig
}

func newGRPCFactory(cfg TransportConfig) ManagedConnectionFactory {
	return &grpcFactory{cfg: cfg}
}

func (f *grpcFactory) Scheme() string { return SchemeGRPC }

func (f *grpcFactory) NewRequestInfo(p Properties) (RequestInfo, error) {
	return SocketRequestInfoFromProperties(p)
}

func (f *grpcFactory) socketInfo(info RequestInfo) (*SocketRequestInfo, error) {
	i, ok := info.(*SocketRequestInfo)
	if !ok || i.Scheme() != SchemeGRPC {
		return nil, fmt.Errorf("orb: %s transport cannot use %T", SchemeGRPC, info)
	}
	return i, nil
}

func (f *grpcFactory) CreateManagedConnection(ctx context.Context, info RequestInfo, principal *Principal) (ManagedConnection, error) {
	i, err := f.socketInfo(info)
	if err != nil {
		return nil, err
	}
	addr, err := hostPort(i.URI())
	if err != nil {
		return nil, err
	}
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(frameCodec{})),
	)
	if err != nil {
		return nil, connectivityError("dial", i.URI(), err)
	}

	// the stream outlives ctx; it ends when the connection is closed
	sctx, cancel := context.WithCancel(context.Background())
	dctx, dcancel := context.WithTimeout(ctx, f.cfg.DialTimeout)
	stop := context.AfterFunc(dctx, cancel)
	st, err := cc.NewStream(sctx, grpcTunnelDesc, grpcTunnelMethod, grpc.WaitForReady(true))
	stopped := stop()
	dcancel()
	if err != nil || !stopped {
		cancel()
		cc.Close()
		if err == nil {
			err = context.DeadlineExceeded
		}
		return nil, connectivityError("dial", i.URI(), err)
	}
	s := &grpcStream{
		stream: st,
		remote: addr,
		closer: func() error {
			cancel()
			return cc.Close()
		},
	}
	return connect(ctx, f.cfg, s, info, principal)
}

func (f *grpcFactory) CreateManagedConnectionAcceptor(auth Authenticator, info RequestInfo) (ManagedConnectionAcceptor, error) {
	i, err := f.socketInfo(info)
	if err != nil {
		return nil, err
	}
	addr, err := bindAddress(i.URI(), i.AlternativeHost())
	if err != nil {
		return nil, err
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, connectivityError("listen", info.URI(), err)
	}
	gl := &grpcListener{
		conns: make(chan messageStream),
		done:  make(chan struct{}),
	}
	gl.server = grpc.NewServer(
		grpc.ForceServerCodec(frameCodec{}),
		grpc.UnknownServiceHandler(gl.handle),
	)
	go gl.server.Serve(l)
	return newAcceptor(f.cfg, auth, rebind(info, l.Addr()), gl), nil
}

type grpcListener struct {
	server *grpc.Server
	conns  chan messageStream
	done   chan struct{}
	once   sync.Once
}

// handle parks each tunnel stream until the managed connection over it is
// closed; returning ends the stream.
func (l *grpcListener) handle(_ interface{}, ss grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(ss)
	if method != grpcTunnelMethod {
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
	remote := ""
	if p, ok := peer.FromContext(ss.Context()); ok {
		remote = p.Addr.String()
	}
	closed := make(chan struct{})
	var once sync.Once
	s := &grpcStream{
		stream: ss,
		remote: remote,
		closer: func() error {
			once.Do(func() { close(closed) })
			return nil
		},
	}
	select {
	case l.conns <- s:
	case <-l.done:
		return status.Error(codes.Unavailable, "acceptor closed")
	}
	select {
	case <-closed:
	case <-ss.Context().Done():
	}
	return nil
}

func (l *grpcListener) accept() (messageStream, error) {
	select {
	case s := <-l.conns:
		return s, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *grpcListener) close() error {
	l.once.Do(func() {
		close(l.done)
		l.server.Stop()
	})
	return nil
}

// grpcStream adapts either side of the tunnel stream. gRPC streams have no
// deadlines; blocked calls are released by closing.
type grpcStream struct {
	stream interface {
		SendMsg(m interface{}) error
		RecvMsg(m interface{}) error
	}
	remote  string
	closer  func() error
	writeMu sync.Mutex
}

func (s *grpcStream) ReadMessage() ([]byte, error) {
	var msg []byte
	if err := s.stream.RecvMsg(&msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *grpcStream) WriteMessage(msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.stream.SendMsg(msg)
}

func (s *grpcStream) SetReadDeadline(time.Time) error  { return nil }
func (s *grpcStream) SetWriteDeadline(time.Time) error { return nil }
func (s *grpcStream) RemoteAddr() string               { return s.remote }
func (s *grpcStream) Close() error                     { return s.closer() }
