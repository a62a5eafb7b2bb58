// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Proxy is a handle to an exported object, in this process or another.
// Calls on a remote object lease a pooled connection for their duration;
// calls on a local one go through the same encode and dispatch path without
// a connection.
//
// A disposed proxy fails every call with ErrProxyDisposed and is never
// reconnected.
type Proxy struct {
	orb       *ORB
	ref       objectRef
	info      RequestInfo
	principal *Principal
	// exported marks the handle returned by ExportObject. Disposing it
	// withdraws the object.
	exported bool
	disposed atomic.Bool
}

// ID is the object id within its ORB.
func (p *Proxy) ID() ObjectID { return p.ref.ID }

// URI is where the object's ORB is reached; empty for local objects of an
// ORB without acceptors.
func (p *Proxy) URI() string { return p.ref.URI }

// ORBID is the id of the ORB holding the object.
func (p *Proxy) ORBID() string { return p.ref.ORB }

// IsLocal reports whether the object lives in the proxy's own ORB.
func (p *Proxy) IsLocal() bool { return p.ref.ORB == p.orb.id }

func (p *Proxy) Disposed() bool { return p.disposed.Load() }

func (p *Proxy) String() string {
	return fmt.Sprintf("proxy(%s#%d@%s)", p.ref.URI, p.ref.ID, p.ref.ORB)
}

// Dispose releases the proxy's hold on pooled connections, closing those
// no other proxy shares. Disposing twice is a no-op.
func (p *Proxy) Dispose() error {
	if !p.disposed.CompareAndSwap(false, true) {
		return nil
	}
	p.orb.forget(p)
	if p.info != nil {
		p.orb.pool.drop(p.info, p.principal)
	}
	return nil
}

// Call invokes method with args and decodes the result into reply, which
// may be nil to discard it. Use a **Proxy reply for methods returning
// proxies.
//
// The call blocks until the response arrives or ctx is done; an expired or
// cancelled ctx closes the connection the call was using.
func (p *Proxy) Call(ctx context.Context, method string, reply interface{}, args ...interface{}) error {
	if p.disposed.Load() {
		return ErrProxyDisposed
	}
	inv := &invocation{object: p.ref.ID, method: method, args: make([][]byte, len(args))}
	for i, a := range args {
		b, err := p.orb.encodeValue(a, "")
		if err != nil {
			return fmt.Errorf("orb: encode %s argument %d: %w", method, i, err)
		}
		inv.args[i] = b
	}

	start := time.Now()
	var err error
	if p.IsLocal() {
		err = p.callLocal(ctx, inv, reply)
	} else {
		err = p.callRemote(ctx, inv, reply)
	}
	p.orb.metrics.observeInvocation("client", start, err)
	return err
}

func (p *Proxy) callLocal(ctx context.Context, inv *invocation, reply interface{}) error {
	dr := p.orb.dispatch(ctx, inv, "")
	if dr.err != nil {
		if dr.declared != nil {
			return dr.declared
		}
		return wrapFailure(dr.err)
	}
	return p.decodeReply(dr.value, reply)
}

func (p *Proxy) callRemote(ctx context.Context, inv *invocation, reply interface{}) error {
	c, err := p.orb.pool.acquire(ctx, p.info, p.principal)
	if err != nil {
		return err
	}
	body, err := roundTrip(ctx, c, inv.marshal())
	if err != nil {
		p.orb.pool.discard(c)
		p.orb.logger.Debug("invocation failed",
			zap.Stringer("proxy", p),
			zap.String("method", inv.method),
			zap.Error(err),
		)
		return err
	}
	var r result
	if err := r.unmarshal(body); err != nil {
		p.orb.pool.discard(c)
		p.orb.logger.Debug("malformed response",
			zap.Stringer("proxy", p),
			zap.String("method", inv.method),
			zap.Error(err),
		)
		return err
	}
	p.orb.pool.release(c)

	if r.status != statusOK {
		return decodeFailure(p.orb.codec, &r)
	}
	return p.decodeReply(r.value, reply)
}

func (p *Proxy) decodeReply(value []byte, reply interface{}) error {
	if reply == nil || value == nil {
		return nil
	}
	if pp, ok := reply.(**Proxy); ok {
		v, err := p.orb.decodeValue(value, proxyType, p)
		if err != nil {
			return fmt.Errorf("orb: decode reply: %w", err)
		}
		*pp = v.Interface().(*Proxy)
		return nil
	}
	rv := reflect.ValueOf(reply)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("orb: reply must be a non-nil pointer")
	}
	if err := p.orb.codec.Decode(value, reply); err != nil {
		return fmt.Errorf("orb: decode reply: %w", err)
	}
	return nil
}
