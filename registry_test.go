// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/orb"
	"github.com/luxfi/orb/internal/echo"
)

func TestLocalRegistry(t *testing.T) {
	ctx := context.Background()
	o := newORB(t, nil)
	r := o.Registry()

	a, err := o.ExportObject(echo.New())
	require.NoError(t, err)
	b, err := o.ExportObject(echo.New())
	require.NoError(t, err)

	_, err = r.Lookup(ctx, "a")
	require.ErrorIs(t, err, orb.ErrNotBound)
	var be *orb.BindingError
	require.ErrorAs(t, err, &be)
	require.Equal(t, orb.NotBound, be.Kind)
	require.Equal(t, "a", be.Name)

	require.NoError(t, r.Bind(ctx, "b", b))
	require.NoError(t, r.Bind(ctx, "a", a))
	require.ErrorIs(t, r.Bind(ctx, "a", b), orb.ErrAlreadyBound)
	require.ErrorIs(t, r.Bind(ctx, "c", nil), orb.ErrNilObject)
	require.Equal(t, []string{"a", "b"}, r.Names())

	got, err := r.Lookup(ctx, "a")
	require.NoError(t, err)
	require.Same(t, a, got)

	// the local view ignores the read-only flag
	r.SetReadOnly(true)
	require.True(t, r.ReadOnly())
	require.NoError(t, r.Unbind(ctx, "a"))
	require.ErrorIs(t, r.Unbind(ctx, "a"), orb.ErrNotBound)
	require.NoError(t, r.Bind(ctx, "a", a))
}

func TestRemoteRegistry(t *testing.T) {
	ctx := testContext(t)
	server, _ := echoServer(t, orb.Properties{orb.PropURI: "tcp://localhost:0"})
	client := newORB(t, nil)
	reg, e := lookupEcho(t, client, server, nil)

	_, err := reg.Lookup(ctx, "missing")
	require.ErrorIs(t, err, orb.ErrNotBound)
	var be *orb.BindingError
	require.ErrorAs(t, err, &be)
	require.Equal(t, "missing", be.Name)

	// a remote object rebound under a second name
	require.NoError(t, reg.Bind(ctx, "echo2", e))
	err = reg.Bind(ctx, "echo2", e)
	require.ErrorIs(t, err, orb.ErrAlreadyBound)
	require.Equal(t, []string{"echo", "echo2"}, server.Registry().Names())

	local, err := server.Registry().Lookup(ctx, "echo2")
	require.NoError(t, err)
	require.True(t, local.IsLocal())

	e2, err := reg.Lookup(ctx, "echo2")
	require.NoError(t, err)
	require.Equal(t, e.ID(), e2.ID())
	var s string
	require.NoError(t, e2.Call(ctx, "EchoString", &s, "twice"))
	require.Equal(t, "twice", s)

	require.NoError(t, reg.Unbind(ctx, "echo2"))
	require.ErrorIs(t, reg.Unbind(ctx, "echo2"), orb.ErrNotBound)
	_, err = reg.Lookup(ctx, "echo2")
	require.ErrorIs(t, err, orb.ErrNotBound)

	require.ErrorIs(t, reg.Bind(ctx, "nil", nil), orb.ErrNilObject)
}

func TestReadOnlyRegistry(t *testing.T) {
	ctx := testContext(t)
	server, _ := echoServer(t, orb.Properties{orb.PropURI: "tcp://localhost:0"})
	server.Registry().SetReadOnly(true)
	client := newORB(t, nil)
	reg, e := lookupEcho(t, client, server, nil)

	err := reg.Bind(ctx, "other", e)
	require.ErrorIs(t, err, orb.ErrAccessDenied)
	var ae *orb.AccessError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "registry is read-only", ae.Reason)

	require.ErrorIs(t, reg.Unbind(ctx, "echo"), orb.ErrAccessDenied)

	// lookups still work and nothing changed
	_, err = reg.Lookup(ctx, "echo")
	require.NoError(t, err)
	require.Equal(t, []string{"echo"}, server.Registry().Names())

	// the server itself is not restricted
	p, err := server.ExportObject(echo.New())
	require.NoError(t, err)
	require.NoError(t, server.Registry().Bind(ctx, "local", p))

	server.Registry().SetReadOnly(false)
	require.NoError(t, reg.Bind(ctx, "other", e))
	require.NoError(t, reg.Unbind(ctx, "local"))
	require.Equal(t, []string{"echo", "other"}, server.Registry().Names())
}

func TestReadOnlyRegistryThroughOwnAcceptor(t *testing.T) {
	ctx := testContext(t)
	server, _ := echoServer(t, orb.Properties{orb.PropURI: "tcp://localhost:0"})
	server.Registry().SetReadOnly(true)

	reg, err := server.GetRegistry(ctx, orb.Properties{orb.PropProviderURI: server.URIs()[0]})
	require.NoError(t, err)
	e, err := reg.Lookup(ctx, "echo")
	require.NoError(t, err)
	require.ErrorIs(t, reg.Bind(ctx, "again", e), orb.ErrAccessDenied)
}
