// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry binds names to proxies.
type Registry interface {
	// Lookup fails with a NotBound BindingError when name is absent.
	Lookup(ctx context.Context, name string) (*Proxy, error)
	// Bind fails with an AlreadyBound BindingError when name is taken.
	Bind(ctx context.Context, name string, p *Proxy) error
	// Unbind fails with a NotBound BindingError when name is absent.
	Unbind(ctx context.Context, name string) error
}

// LocalRegistry is the registry of an ORB as seen from its own process.
// Remote callers reach it through a restricted view that honours the
// read-only flag; calls made directly on the LocalRegistry never do.
type LocalRegistry struct {
	mu       sync.RWMutex
	bindings map[string]*Proxy
	readOnly atomic.Bool
}

var _ Registry = (*LocalRegistry)(nil)

func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{bindings: make(map[string]*Proxy)}
}

func (r *LocalRegistry) Lookup(_ context.Context, name string) (*Proxy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.bindings[name]
	if !ok {
		return nil, &BindingError{Kind: NotBound, Name: name}
	}
	return p, nil
}

func (r *LocalRegistry) Bind(_ context.Context, name string, p *Proxy) error {
	if p == nil {
		return ErrNilObject
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bindings[name]; ok {
		return &BindingError{Kind: AlreadyBound, Name: name}
	}
	r.bindings[name] = p
	return nil
}

func (r *LocalRegistry) Unbind(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bindings[name]; !ok {
		return &BindingError{Kind: NotBound, Name: name}
	}
	delete(r.bindings, name)
	return nil
}

// ReadOnly reports whether remote callers are barred from binding and
// unbinding.
func (r *LocalRegistry) ReadOnly() bool { return r.readOnly.Load() }

// SetReadOnly takes effect for every remote call not yet dispatched.
func (r *LocalRegistry) SetReadOnly(readOnly bool) { r.readOnly.Store(readOnly) }

// Names returns the bound names, sorted.
func (r *LocalRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *LocalRegistry) clear() {
	r.mu.Lock()
	r.bindings = make(map[string]*Proxy)
	r.mu.Unlock()
}

// registryService is the remote-facing view of a LocalRegistry.
type registryService struct {
	local *LocalRegistry
}

func (s *registryService) Lookup(ctx context.Context, name string) (*Proxy, error) {
	return s.local.Lookup(ctx, name)
}

func (s *registryService) Bind(ctx context.Context, name string, p *Proxy) error {
	if s.local.ReadOnly() {
		return &AccessError{Reason: "registry is read-only"}
	}
	return s.local.Bind(ctx, name, p)
}

func (s *registryService) Unbind(ctx context.Context, name string) error {
	if s.local.ReadOnly() {
		return &AccessError{Reason: "registry is read-only"}
	}
	return s.local.Unbind(ctx, name)
}

func (s *registryService) DeclaredErrors() []error {
	return []error{&BindingError{}, &AccessError{}}
}

// remoteRegistry is the client stub of a registryService.
type remoteRegistry struct {
	proxy *Proxy
}

var _ Registry = (*remoteRegistry)(nil)

func (r *remoteRegistry) Lookup(ctx context.Context, name string) (*Proxy, error) {
	var p *Proxy
	if err := r.proxy.Call(ctx, "Lookup", &p, name); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *remoteRegistry) Bind(ctx context.Context, name string, p *Proxy) error {
	if p == nil {
		return ErrNilObject
	}
	return r.proxy.Call(ctx, "Bind", nil, name, p)
}

func (r *remoteRegistry) Unbind(ctx context.Context, name string) error {
	return r.proxy.Call(ctx, "Unbind", nil, name)
}

// Proxy returns the proxy of the registry object itself. Disposing it
// invalidates the registry.
func (r *remoteRegistry) Proxy() *Proxy { return r.proxy }
