// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type connRole int

const (
	roleClient connRole = iota
	roleServer
)

func (r connRole) String() string {
	if r == roleServer {
		return "server"
	}
	return "client"
}

// poolEntry is one slot of the connection arena. Client entries are leased
// exclusively while an invocation runs on them; server entries are busy
// while a dispatch is in progress.
type poolEntry struct {
	conn      ManagedConnection
	role      connRole
	info      RequestInfo
	principal *Principal
	busy      bool
	lastUsed  time.Time
}

// poolRef counts the proxies using one (info, principal) pair.
type poolRef struct {
	info      RequestInfo
	principal *Principal
	count     int
}

func (r *poolRef) matches(info RequestInfo, principal *Principal) bool {
	return r.info.Equal(info) && r.principal.equal(principal)
}

// connPool is the arena of every connection an ORB owns, indexed by id.
// Proxies never hold connections; they lease one per invocation.
type connPool struct {
	cfg     TransportConfig
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics

	mu        sync.Mutex
	conns     map[ConnID]*poolEntry
	refs      []*poolRef
	factories map[string]ManagedConnectionFactory
	closed    bool
}

func newConnPool(cfg TransportConfig, c clock.Clock) *connPool {
	return &connPool{
		cfg:       cfg,
		clock:     c,
		logger:    cfg.Logger.Named("pool"),
		metrics:   cfg.metrics,
		conns:     make(map[ConnID]*poolEntry),
		factories: make(map[string]ManagedConnectionFactory),
	}
}

// factory returns the ORB's factory for scheme, creating it on first use.
func (p *connPool) factory(scheme string) (ManagedConnectionFactory, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.factories[scheme]; ok {
		return f, nil
	}
	f, err := newFactory(scheme, p.cfg)
	if err != nil {
		return nil, err
	}
	p.factories[scheme] = f
	return f, nil
}

// acquire leases an idle connection matching info and principal, or dials
// a new one. The caller must release or discard it.
func (p *connPool) acquire(ctx context.Context, info RequestInfo, principal *Principal) (ManagedConnection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShutdown
	}
	for id, e := range p.conns {
		if e.role != roleClient || e.busy {
			continue
		}
		if e.conn.State() == ConnClosed {
			p.removeLocked(id)
			continue
		}
		if e.info.Equal(info) && e.principal.equal(principal) {
			e.busy = true
			p.mu.Unlock()
			return e.conn, nil
		}
	}
	p.mu.Unlock()

	f, err := p.factory(info.Scheme())
	if err != nil {
		return nil, err
	}
	c, err := f.CreateManagedConnection(ctx, info, principal)
	if p.metrics != nil {
		p.metrics.dials.WithLabelValues(info.Scheme(), outcome(err)).Inc()
	}
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.Close()
		return nil, ErrShutdown
	}
	p.addLocked(&poolEntry{
		conn:      c,
		role:      roleClient,
		info:      info,
		principal: principal,
		busy:      true,
		lastUsed:  p.clock.Now(),
	})
	return c, nil
}

// release returns a leased connection to the idle set. Connections no proxy
// refers to any more are closed instead.
func (p *connPool) release(c ManagedConnection) {
	p.mu.Lock()
	e, ok := p.conns[c.ID()]
	if !ok {
		p.mu.Unlock()
		c.Close()
		return
	}
	if c.State() == ConnClosed || !p.referencedLocked(e.info, e.principal) {
		p.removeLocked(c.ID())
		p.mu.Unlock()
		c.Close()
		return
	}
	e.busy = false
	e.lastUsed = p.clock.Now()
	p.mu.Unlock()
}

// discard drops a connection whose stream position is unknown.
func (p *connPool) discard(c ManagedConnection) {
	p.mu.Lock()
	p.removeLocked(c.ID())
	p.mu.Unlock()
	c.Close()
}

// retain records one more proxy using info and principal.
func (p *connPool) retain(info RequestInfo, principal *Principal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.refs {
		if r.matches(info, principal) {
			r.count++
			return
		}
	}
	p.refs = append(p.refs, &poolRef{info: info, principal: principal, count: 1})
}

// drop undoes retain. When the last proxy goes, the idle connections it
// shared are closed.
func (p *connPool) drop(info RequestInfo, principal *Principal) {
	p.mu.Lock()
	var idle []ManagedConnection
	for i, r := range p.refs {
		if !r.matches(info, principal) {
			continue
		}
		r.count--
		if r.count > 0 {
			break
		}
		p.refs = append(p.refs[:i], p.refs[i+1:]...)
		for id, e := range p.conns {
			if e.role == roleClient && !e.busy && e.info.Equal(info) && e.principal.equal(principal) {
				idle = append(idle, e.conn)
				p.removeLocked(id)
			}
		}
		break
	}
	p.mu.Unlock()
	for _, c := range idle {
		hangUp(c)
	}
}

func (p *connPool) referencedLocked(info RequestInfo, principal *Principal) bool {
	for _, r := range p.refs {
		if r.matches(info, principal) {
			return true
		}
	}
	return false
}

// addServer tracks an accepted connection. It returns false once the pool
// is closed.
func (p *connPool) addServer(c ManagedConnection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.addLocked(&poolEntry{
		conn:      c,
		role:      roleServer,
		info:      c.RequestInfo(),
		principal: c.Principal(),
		lastUsed:  p.clock.Now(),
	})
	return true
}

// setBusy marks a server connection as dispatching, keeping the reaper off
// it.
func (p *connPool) setBusy(id ConnID, busy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.conns[id]; ok {
		e.busy = busy
		e.lastUsed = p.clock.Now()
	}
}

func (p *connPool) remove(id ConnID) {
	p.mu.Lock()
	p.removeLocked(id)
	p.mu.Unlock()
}

func (p *connPool) addLocked(e *poolEntry) {
	p.conns[e.conn.ID()] = e
	if p.metrics != nil {
		p.metrics.connections.WithLabelValues(e.role.String()).Inc()
	}
}

func (p *connPool) removeLocked(id ConnID) {
	e, ok := p.conns[id]
	if !ok {
		return
	}
	delete(p.conns, id)
	if p.metrics != nil {
		p.metrics.connections.WithLabelValues(e.role.String()).Dec()
	}
}

// reap closes connections that have been idle for longer than timeout.
func (p *connPool) reap(timeout time.Duration) int {
	now := p.clock.Now()
	p.mu.Lock()
	var stale []*poolEntry
	for id, e := range p.conns {
		if e.busy {
			continue
		}
		if e.conn.State() == ConnClosed || now.Sub(e.lastUsed) >= timeout {
			stale = append(stale, e)
			p.removeLocked(id)
		}
	}
	p.mu.Unlock()
	for _, e := range stale {
		p.logger.Debug("closing idle connection",
			zap.Stringer("conn", e.conn.ID()),
			zap.Stringer("role", e.role),
			zap.String("uri", e.info.URI()),
		)
		if e.role == roleClient {
			hangUp(e.conn)
		} else {
			e.conn.Close()
		}
	}
	return len(stale)
}

// PoolStats counts the connections of an ORB.
type PoolStats struct {
	Client int `json:"client"`
	Server int `json:"server"`
	Idle   int `json:"idle"`
}

func (p *connPool) stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s PoolStats
	for _, e := range p.conns {
		if e.role == roleServer {
			s.Server++
		} else {
			s.Client++
		}
		if !e.busy {
			s.Idle++
		}
	}
	return s
}

// close shuts every connection in one pass over the arena.
func (p *connPool) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := make([]*poolEntry, 0, len(p.conns))
	for id, e := range p.conns {
		entries = append(entries, e)
		p.removeLocked(id)
	}
	p.refs = nil
	p.mu.Unlock()

	var errs error
	for _, e := range entries {
		if e.role == roleClient && !e.busy {
			errs = multierr.Append(errs, ignoreClosed(hangUp(e.conn)))
		} else {
			errs = multierr.Append(errs, ignoreClosed(e.conn.Close()))
		}
	}
	return errs
}
