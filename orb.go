// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var errNoAcceptor = errors.New("no acceptor to advertise the object under")

// ORB exports local objects, reaches remote ones and owns every acceptor,
// connection and proxy it created.
type ORB struct {
	id        string
	props     Properties
	logger    *zap.Logger
	codec     Codec
	auth      Authenticator
	metrics   *metrics
	pool      *connPool
	workers   *WorkerPool
	scheduler *Scheduler
	registry  *LocalRegistry

	// ctx ends at shutdown and bounds every server side read.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	acceptors []ManagedConnectionAcceptor
	objects   map[ObjectID]*servant
	nextID    ObjectID
	proxies   map[*Proxy]struct{}
	closed    bool
	serving   sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an ORB configured by props. When props holds orb.net.uri the
// ORB listens on it straight away; transport parameters in props also apply
// to the connections the ORB opens.
func New(props Properties, opts ...Option) (*ORB, error) {
	o := newOptions(opts)
	m, err := newMetrics(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("orb: register metrics: %w", err)
	}
	id := uuid.NewString()
	logger := o.logger.With(zap.String("orb", id))
	cfg := TransportConfig{
		Logger:           logger,
		ORBID:            id,
		DialTimeout:      o.dialTimeout,
		HandshakeTimeout: o.handshakeTimeout,
		metrics:          m,
	}.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	b := &ORB{
		id:        id,
		props:     props.Clone(),
		logger:    logger,
		codec:     o.codec,
		auth:      o.auth,
		metrics:   m,
		pool:      newConnPool(cfg, o.clock),
		workers:   NewWorkerPool(o.workers, logger),
		scheduler: NewScheduler(o.clock, logger),
		registry:  NewLocalRegistry(),
		ctx:       ctx,
		cancel:    cancel,
		objects:   make(map[ObjectID]*servant),
		nextID:    registryObjectID,
		proxies:   make(map[*Proxy]struct{}),
	}
	b.objects[registryObjectID] = newServant(registryObjectID, &registryService{local: b.registry})

	idle := o.idleTimeout
	b.scheduler.Every(idle/2, func() {
		if n := b.pool.reap(idle); n > 0 {
			b.logger.Debug("reaped idle connections", zap.Int("count", n))
		}
	})

	if props.Get(PropURI) != "" {
		if _, err := b.Listen(props); err != nil {
			return nil, multierr.Append(err, b.Shutdown())
		}
	}
	return b, nil
}

// ID is the process unique identity of the ORB.
func (o *ORB) ID() string { return o.id }

// Registry returns the local, unrestricted view of this ORB's registry.
func (o *ORB) Registry() *LocalRegistry { return o.registry }

// Listen adds an acceptor on the orb.net.uri of props and returns the uri it
// is reachable at, with the real port when props asked for port 0.
func (o *ORB) Listen(props Properties) (string, error) {
	info, err := o.requestInfo(props)
	if err != nil {
		return "", err
	}
	f, err := o.pool.factory(info.Scheme())
	if err != nil {
		return "", err
	}
	a, err := f.CreateManagedConnectionAcceptor(o.auth, info)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		a.Close()
		return "", ErrShutdown
	}
	o.acceptors = append(o.acceptors, a)
	o.serving.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.serving.Done()
		if err := a.Serve(o.ctx, o.workers, o.serveConn); err != nil {
			o.logger.Error("acceptor failed", zap.String("uri", a.URI()), zap.Error(err))
		}
	}()
	o.logger.Info("listening", zap.String("uri", a.URI()))
	return a.URI(), nil
}

// URIs returns the uris of every acceptor, in the order they were opened.
func (o *ORB) URIs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	uris := make([]string, len(o.acceptors))
	for i, a := range o.acceptors {
		uris[i] = a.URI()
	}
	return uris
}

func (o *ORB) primaryURI() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.acceptors) == 0 {
		return ""
	}
	return o.acceptors[0].URI()
}

// ExportObject makes obj invocable through the returned proxy. Every
// exported method with encodable parameters and at most a result and an
// error is callable; a leading context.Context receives the caller's
// context. Disposing the returned proxy withdraws the object.
func (o *ORB) ExportObject(obj interface{}) (*Proxy, error) {
	if obj == nil {
		return nil, ErrNilObject
	}
	if v := reflect.ValueOf(obj); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, ErrNilObject
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrShutdown
	}
	o.nextID++
	id := o.nextID
	o.objects[id] = newServant(id, obj)
	uri := ""
	if len(o.acceptors) > 0 {
		uri = o.acceptors[0].URI()
	}
	p := &Proxy{
		orb:      o,
		ref:      objectRef{ORB: o.id, URI: uri, ID: id},
		exported: true,
	}
	o.proxies[p] = struct{}{}
	o.logger.Debug("exported object", zap.Uint64("id", uint64(id)), zap.String("type", fmt.Sprintf("%T", obj)))
	return p, nil
}

func (o *ORB) servant(id ObjectID) *servant {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.objects[id]
}

// GetRegistry returns the registry of the ORB at orb.provider.uri, claiming
// orb.security.principal and orb.security.credentials when set. It connects
// eagerly: an unreachable ORB is a ConnectivityError and rejected
// credentials an AccessError. Other keys of props override this ORB's
// transport parameters.
func (o *ORB) GetRegistry(ctx context.Context, props Properties) (Registry, error) {
	uri := props.Get(PropProviderURI)
	if uri == "" {
		return nil, fmt.Errorf("orb: %s is not set", PropProviderURI)
	}
	merged := o.props.Clone()
	for k, v := range props {
		merged.Set(k, v)
	}
	merged.Set(PropURI, uri)
	info, err := o.requestInfo(merged)
	if err != nil {
		return nil, err
	}
	principal := PrincipalFromProperties(props)

	p, err := o.newRemoteProxy(objectRef{URI: info.URI(), ID: registryObjectID}, info, principal)
	if err != nil {
		return nil, err
	}
	c, err := o.pool.acquire(ctx, info, principal)
	if err != nil {
		p.Dispose()
		return nil, err
	}
	p.ref.ORB = c.RemoteORB()
	o.pool.release(c)
	return &remoteRegistry{proxy: p}, nil
}

// requestInfo reads props through this ORB's factory for their scheme.
func (o *ORB) requestInfo(props Properties) (RequestInfo, error) {
	scheme, err := uriScheme(props)
	if err != nil {
		return nil, err
	}
	f, err := o.pool.factory(scheme)
	if err != nil {
		return nil, err
	}
	return f.NewRequestInfo(props)
}

func (o *ORB) newRemoteProxy(ref objectRef, info RequestInfo, principal *Principal) (*Proxy, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrShutdown
	}
	p := &Proxy{orb: o, ref: ref, info: info, principal: principal}
	o.proxies[p] = struct{}{}
	o.pool.retain(info, principal)
	return p, nil
}

// resolve turns a received object reference into a proxy. References to
// this ORB's own objects become local proxies.
func (o *ORB) resolve(ref objectRef, parent *Proxy) (*Proxy, error) {
	if ref.ORB == o.id {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.closed {
			return nil, ErrShutdown
		}
		p := &Proxy{orb: o, ref: ref}
		o.proxies[p] = struct{}{}
		return p, nil
	}

	var (
		info      RequestInfo
		principal = PrincipalFromProperties(o.props)
	)
	if parent != nil {
		principal = parent.principal
		if parent.info != nil && parent.info.URI() == ref.URI {
			info = parent.info
		}
	}
	if info == nil {
		props := o.props.Clone()
		props.Set(PropURI, ref.URI)
		var err error
		if info, err = o.requestInfo(props); err != nil {
			return nil, err
		}
	}
	return o.newRemoteProxy(ref, info, principal)
}

// refFor is the reference p travels as.
func (o *ORB) refFor(p *Proxy, via string) (objectRef, error) {
	if p.Disposed() {
		return objectRef{}, ErrProxyDisposed
	}
	if p.ref.ORB != o.id {
		return p.ref, nil
	}
	if via == "" {
		via = o.primaryURI()
	}
	if via == "" {
		return objectRef{}, &ConnectivityError{Op: "export", Err: errNoAcceptor}
	}
	return objectRef{ORB: o.id, URI: via, ID: p.ref.ID}, nil
}

// forget drops a disposed proxy, withdrawing its object when it is the
// handle ExportObject returned.
func (o *ORB) forget(p *Proxy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.proxies, p)
	if p.exported {
		delete(o.objects, p.ref.ID)
	}
}

// serveConn takes ownership of an authenticated inbound connection.
func (o *ORB) serveConn(c ManagedConnection) {
	if !o.pool.addServer(c) {
		c.Close()
		return
	}
	go o.readLoop(c)
}

// readLoop reads the requests of one inbound connection and hands each to
// the worker pool. Requests on a connection are served one at a time.
func (o *ORB) readLoop(c ManagedConnection) {
	logger := o.logger.With(zap.Stringer("conn", c.ID()), zap.Stringer("principal", c.Principal()))
	defer func() {
		o.pool.remove(c.ID())
		c.Close()
	}()
	via := c.RequestInfo().URI()
	for {
		f, err := c.Receive(o.ctx)
		if err != nil {
			if c.State() != ConnClosed || errors.Is(err, ErrProtocol) {
				logger.Debug("inbound connection failed", zap.Error(err))
			}
			return
		}
		switch f.Type {
		case FrameRequest:
			o.pool.setBusy(c.ID(), true)
			done := make(chan struct{})
			err := o.workers.Submit(func(ctx context.Context) {
				defer close(done)
				o.serveRequest(ctx, c, f, via)
			})
			if err != nil {
				return
			}
			<-done
			o.pool.setBusy(c.ID(), false)
		case FrameClose:
			logger.Debug("peer closed connection")
			return
		default:
			logger.Warn("unexpected frame", zap.Stringer("type", f.Type))
			return
		}
	}
}

func (o *ORB) serveRequest(ctx context.Context, c ManagedConnection, f *Frame, via string) {
	start := time.Now()
	var inv invocation
	if err := inv.unmarshal(f.Body); err != nil {
		o.logger.Warn("malformed request", zap.Stringer("conn", c.ID()), zap.Error(err))
		c.Close()
		return
	}
	dr := o.dispatch(ContextWithPrincipal(ctx, c.Principal()), &inv, via)
	if dr.err != nil && dr.declared == nil {
		o.logger.Debug("invocation failed",
			zap.Uint64("object", uint64(inv.object)),
			zap.String("method", inv.method),
			zap.Error(dr.err),
		)
	}
	res := encodeResult(o.codec, dr)
	err := c.Send(ctx, &Frame{Type: FrameResponse, ID: f.ID, Body: res.marshal()})
	if err != nil {
		o.logger.Debug("failed to send response", zap.Stringer("conn", c.ID()), zap.Error(err))
	}
	o.metrics.observeInvocation("server", start, dr.err)
}

// Status is a snapshot of an ORB.
type Status struct {
	ID          string    `json:"id"`
	URIs        []string  `json:"uris"`
	Transports  []string  `json:"transports"`
	Objects     int       `json:"objects"`
	Proxies     int       `json:"proxies"`
	Names       int       `json:"names"`
	ReadOnly    bool      `json:"readOnly"`
	Connections PoolStats `json:"connections"`
	Shutdown    bool      `json:"shutdown"`
}

func (o *ORB) Status() Status {
	s := Status{
		ID:          o.id,
		URIs:        o.URIs(),
		Transports:  AvailableTransports(),
		Names:       len(o.registry.Names()),
		ReadOnly:    o.registry.ReadOnly(),
		Connections: o.pool.stats(),
	}
	o.mu.Lock()
	// the registry object is not counted
	s.Objects = len(o.objects) - 1
	s.Proxies = len(o.proxies)
	s.Shutdown = o.closed
	o.mu.Unlock()
	if s.Objects < 0 {
		s.Objects = 0
	}
	return s
}

// Shutdown closes the acceptors, disposes every proxy, closes every
// connection and stops the background workers. It is safe to call more
// than once; later calls return the first result.
func (o *ORB) Shutdown() error {
	o.shutdownOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		acceptors := o.acceptors
		o.acceptors = nil
		proxies := make([]*Proxy, 0, len(o.proxies))
		for p := range o.proxies {
			proxies = append(proxies, p)
		}
		o.mu.Unlock()

		var errs error
		for _, a := range acceptors {
			errs = multierr.Append(errs, ignoreClosed(a.Close()))
		}
		for _, p := range proxies {
			errs = multierr.Append(errs, p.Dispose())
		}
		errs = multierr.Append(errs, o.pool.close())
		o.cancel()
		o.serving.Wait()
		o.scheduler.Close()
		errs = multierr.Append(errs, o.workers.Close())

		o.mu.Lock()
		o.objects = make(map[ObjectID]*servant)
		o.mu.Unlock()
		o.registry.clear()

		o.shutdownErr = errs
		o.logger.Info("orb shut down", zap.Error(errs))
	})
	return o.shutdownErr
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
