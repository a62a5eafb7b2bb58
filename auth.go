// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Principal is a name and credential pair. Clients claim one when they
// connect; acceptors verify it with an Authenticator. A nil principal is
// an anonymous connect.
type Principal struct {
	Name       string
	Credential string
}

func (p *Principal) String() string {
	if p == nil {
		return "anonymous"
	}
	return p.Name
}

func (p *Principal) equal(o *Principal) bool {
	if p == nil || o == nil {
		return p == o
	}
	return *p == *o
}

// PrincipalFromProperties reads orb.security.principal and
// orb.security.credentials. It returns nil when no principal is set.
func PrincipalFromProperties(p Properties) *Principal {
	name := p.Get(PropPrincipal)
	if name == "" {
		return nil
	}
	return &Principal{Name: name, Credential: p.Get(PropCredentials)}
}

// Authenticator validates the principal claimed at connect time and
// returns the authenticated identity.
type Authenticator interface {
	Authenticate(ctx context.Context, claim *Principal) (*Principal, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, claim *Principal) (*Principal, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, claim *Principal) (*Principal, error) {
	return f(ctx, claim)
}

// AllowAll accepts every connection, anonymous ones included.
var AllowAll Authenticator = AuthenticatorFunc(func(_ context.Context, claim *Principal) (*Principal, error) {
	return claim, nil
})

var errAuthFailed = errors.New("authentication failed")

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 2
	argonKeyLen  = 32
)

type passwordHash struct {
	salt []byte
	key  []byte
}

// PasswordAuthenticator accepts principals whose credential matches a
// registered user. Passwords are kept as argon2id hashes.
type PasswordAuthenticator struct {
	mu    sync.RWMutex
	users map[string]passwordHash
}

func NewPasswordAuthenticator() *PasswordAuthenticator {
	return &PasswordAuthenticator{users: make(map[string]passwordHash)}
}

// AddUser registers or replaces a user.
func (a *PasswordAuthenticator) AddUser(name, password string) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	h := passwordHash{salt: salt, key: hashPassword(password, salt)}
	a.mu.Lock()
	a.users[name] = h
	a.mu.Unlock()
	return nil
}

func (a *PasswordAuthenticator) RemoveUser(name string) {
	a.mu.Lock()
	delete(a.users, name)
	a.mu.Unlock()
}

func (a *PasswordAuthenticator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users)
}

func (a *PasswordAuthenticator) Authenticate(_ context.Context, claim *Principal) (*Principal, error) {
	if claim == nil {
		return nil, errAuthFailed
	}
	a.mu.RLock()
	h, ok := a.users[claim.Name]
	a.mu.RUnlock()
	if !ok {
		// hash anyway so unknown users cost the same as wrong passwords
		hashPassword(claim.Credential, make([]byte, 16))
		return nil, errAuthFailed
	}
	if subtle.ConstantTimeCompare(hashPassword(claim.Credential, h.salt), h.key) != 1 {
		return nil, errAuthFailed
	}
	return &Principal{Name: claim.Name}, nil
}

func hashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

type principalKey struct{}

// ContextWithPrincipal attaches the authenticated caller to ctx.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated caller of a dispatched
// invocation, nil for anonymous or local calls.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
