// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

var errNoInProcListener = errors.New("no in-process acceptor")

// inprocHub maps vm:// names to the acceptors listening on them.
var inprocHub = struct {
	sync.Mutex
	listeners map[string]*inprocListener
}{listeners: make(map[string]*inprocListener)}

// inprocFactory connects endpoints of the same process through net.Pipe,
// without network I/O.
type inprocFactory struct {
	cfg TransportConfig
}

func newInProcFactory(cfg TransportConfig) ManagedConnectionFactory {
	return &inprocFactory{cfg: cfg}
}

func (f *inprocFactory) Scheme() string { return SchemeInProc }

func (f *inprocFactory) NewRequestInfo(p Properties) (RequestInfo, error) {
	return InProcRequestInfoFromProperties(p)
}

func (f *inprocFactory) CreateManagedConnection(ctx context.Context, info RequestInfo, principal *Principal) (ManagedConnection, error) {
	i, ok := info.(*InProcRequestInfo)
	if !ok {
		return nil, fmt.Errorf("orb: %s transport cannot use %T", SchemeInProc, info)
	}
	inprocHub.Lock()
	l := inprocHub.listeners[i.name()]
	inprocHub.Unlock()
	if l == nil {
		return nil, connectivityError("dial", i.URI(), errNoInProcListener)
	}

	client, server := net.Pipe()
	select {
	case l.conns <- server:
	case <-l.done:
		client.Close()
		server.Close()
		return nil, connectivityError("dial", i.URI(), errNoInProcListener)
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, connectivityError("dial", i.URI(), ctx.Err())
	}
	return connect(ctx, f.cfg, newNetStream(client), info, principal)
}

func (f *inprocFactory) CreateManagedConnectionAcceptor(auth Authenticator, info RequestInfo) (ManagedConnectionAcceptor, error) {
	i, ok := info.(*InProcRequestInfo)
	if !ok {
		return nil, fmt.Errorf("orb: %s transport cannot use %T", SchemeInProc, info)
	}
	l := &inprocListener{
		name:  i.name(),
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
	inprocHub.Lock()
	defer inprocHub.Unlock()
	if _, exists := inprocHub.listeners[l.name]; exists {
		return nil, connectivityError("listen", i.URI(), errors.New("address already in use"))
	}
	inprocHub.listeners[l.name] = l
	return newAcceptor(f.cfg, auth, info, l), nil
}

type inprocListener struct {
	name  string
	conns chan net.Conn
	done  chan struct{}
	once  sync.Once
}

func (l *inprocListener) accept() (messageStream, error) {
	select {
	case c := <-l.conns:
		return newNetStream(c), nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *inprocListener) close() error {
	l.once.Do(func() {
		inprocHub.Lock()
		if inprocHub.listeners[l.name] == l {
			delete(inprocHub.listeners, l.name)
		}
		inprocHub.Unlock()
		close(l.done)
	})
	return nil
}
