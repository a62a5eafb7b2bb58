// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/orb"
	"github.com/luxfi/orb/internal/echo"
)

// factory hands out new objects, exercising proxies as results and
// arguments.
type factory struct {
	o *orb.ORB
}

func (f *factory) Create(ctx context.Context) (*orb.Proxy, error) {
	return f.o.ExportObject(echo.New())
}

func (f *factory) Nothing() *orb.Proxy { return nil }

func (f *factory) Relay(ctx context.Context, p *orb.Proxy, message string) (string, error) {
	var reply string
	err := p.Call(ctx, "EchoString", &reply, message)
	return reply, err
}

// invocationTargets returns the echo service as a remote and as a local
// proxy.
func invocationTargets(t *testing.T) map[string]*orb.Proxy {
	server, _ := echoServer(t, orb.Properties{orb.PropURI: "tcp://localhost:0"})
	client := newORB(t, nil)
	_, remote := lookupEcho(t, client, server, nil)
	local, err := server.Registry().Lookup(context.Background(), "echo")
	require.NoError(t, err)
	return map[string]*orb.Proxy{"remote": remote, "local": local}
}

func TestDeclaredError(t *testing.T) {
	orb.RegisterError(&echo.Failure{})
	for name, e := range invocationTargets(t) {
		t.Run(name, func(t *testing.T) {
			err := e.Call(testContext(t), "Fail", nil, 7, "bad input")
			var f *echo.Failure
			require.ErrorAs(t, err, &f)
			require.Equal(t, 7, f.Code)
			require.Equal(t, "bad input", f.Message)
			require.NotErrorIs(t, err, orb.ErrInvocation)
		})
	}
}

func TestUndeclaredError(t *testing.T) {
	for name, e := range invocationTargets(t) {
		t.Run(name, func(t *testing.T) {
			err := e.Call(testContext(t), "Crash", nil, "boom")
			require.ErrorIs(t, err, orb.ErrInvocation)
			var ie *orb.InvocationError
			require.ErrorAs(t, err, &ie)
			require.Equal(t, "*errors.errorString", ie.Class)
			require.Equal(t, "boom", ie.Message)
			if name == "local" {
				require.EqualError(t, ie.Cause, "boom")
			} else {
				require.Nil(t, ie.Cause)
			}
		})
	}
}

func TestPanicBecomesInvocationError(t *testing.T) {
	for name, e := range invocationTargets(t) {
		t.Run(name, func(t *testing.T) {
			ctx := testContext(t)
			err := e.Call(ctx, "Panic", nil, "kaboom")
			var ie *orb.InvocationError
			require.ErrorAs(t, err, &ie)
			require.Equal(t, "string", ie.Class)
			require.Equal(t, "kaboom", ie.Message)

			// the object survives
			var n int
			require.NoError(t, e.Call(ctx, "EchoInt", &n, 1))
			require.Equal(t, 1, n)
		})
	}
}

func TestDispatchFailures(t *testing.T) {
	for name, e := range invocationTargets(t) {
		t.Run(name, func(t *testing.T) {
			ctx := testContext(t)
			tests := []struct {
				method string
				args   []interface{}
				class  string
			}{
				{method: "Missing", class: orb.ClassNoSuchMethod},
				{method: "DeclaredErrors", class: orb.ClassNoSuchMethod},
				{method: "EchoInt", class: orb.ClassBadArguments},
				{method: "EchoInt", args: []interface{}{1, 2}, class: orb.ClassBadArguments},
				{method: "EchoInt", args: []interface{}{"one"}, class: orb.ClassBadArguments},
			}
			for _, tt := range tests {
				var n int
				err := e.Call(ctx, tt.method, &n, tt.args...)
				var ie *orb.InvocationError
				require.ErrorAs(t, err, &ie, tt.method)
				require.Equal(t, tt.class, ie.Class, tt.method)
			}
		})
	}
}

func TestReplyDecoding(t *testing.T) {
	ctx := testContext(t)
	targets := invocationTargets(t)
	e := targets["remote"]

	var n int
	require.Error(t, e.Call(ctx, "EchoInt", n, 1))
	var s string
	require.Error(t, e.Call(ctx, "EchoInt", &s, 1))
	require.NoError(t, e.Call(ctx, "EchoInt", nil, 1))

	var strs []string
	require.NoError(t, e.Call(ctx, "EchoStrings", &strs, []string{"a", "b"}))
	require.Equal(t, []string{"a", "b"}, strs)
	require.NoError(t, e.Call(ctx, "EchoStrings", &strs, nil))
	require.Nil(t, strs)
}

func TestProxiesAsResultsAndArguments(t *testing.T) {
	ctx := testContext(t)
	server := newORB(t, orb.Properties{orb.PropURI: "tcp://localhost:0"})
	fp, err := server.ExportObject(&factory{o: server})
	require.NoError(t, err)
	require.NoError(t, server.Registry().Bind(ctx, "factory", fp))

	client := newORB(t, nil)
	reg, err := client.GetRegistry(ctx, orb.Properties{orb.PropProviderURI: server.URIs()[0]})
	require.NoError(t, err)
	f, err := reg.Lookup(ctx, "factory")
	require.NoError(t, err)

	var created *orb.Proxy
	require.NoError(t, f.Call(ctx, "Create", &created))
	require.NotNil(t, created)
	require.False(t, created.IsLocal())
	require.Equal(t, server.ID(), created.ORBID())
	var s string
	require.NoError(t, created.Call(ctx, "EchoString", &s, "made"))
	require.Equal(t, "made", s)
	require.Equal(t, 2, server.Status().Objects)

	var none *orb.Proxy
	require.NoError(t, f.Call(ctx, "Nothing", &none))
	require.Nil(t, none)

	// the server gets its own object back as a local proxy
	require.NoError(t, f.Call(ctx, "Relay", &s, created, "relayed"))
	require.Equal(t, "relayed", s)

	// a disposed proxy cannot be passed on
	other, err := reg.Lookup(ctx, "factory")
	require.NoError(t, err)
	require.NoError(t, other.Dispose())
	err = f.Call(ctx, "Relay", &s, other, "x")
	require.True(t, errors.Is(err, orb.ErrProxyDisposed))
}
