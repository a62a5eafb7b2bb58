// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/orb"
)

// whoami reports the principal its calls arrive as.
type whoami struct{}

func (whoami) Name(ctx context.Context) string {
	return orb.PrincipalFromContext(ctx).String()
}

func TestPasswordAuthenticator(t *testing.T) {
	ctx := context.Background()
	a := orb.NewPasswordAuthenticator()
	require.NoError(t, a.AddUser("jimmy", "secret"))
	require.Equal(t, 1, a.Len())

	p, err := a.Authenticate(ctx, &orb.Principal{Name: "jimmy", Credential: "secret"})
	require.NoError(t, err)
	require.Equal(t, "jimmy", p.Name)
	require.Empty(t, p.Credential)

	_, wrong := a.Authenticate(ctx, &orb.Principal{Name: "jimmy", Credential: "guess"})
	require.Error(t, wrong)
	_, unknown := a.Authenticate(ctx, &orb.Principal{Name: "bob", Credential: "secret"})
	require.Error(t, unknown)
	_, anonymous := a.Authenticate(ctx, nil)
	require.Error(t, anonymous)
	require.Equal(t, wrong.Error(), unknown.Error())
	require.Equal(t, wrong.Error(), anonymous.Error())

	a.RemoveUser("jimmy")
	_, err = a.Authenticate(ctx, &orb.Principal{Name: "jimmy", Credential: "secret"})
	require.Error(t, err)
}

func TestAuthenticatedConnect(t *testing.T) {
	a := orb.NewPasswordAuthenticator()
	require.NoError(t, a.AddUser("jimmy", "secret"))

	for _, tc := range transportCases(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testContext(t)
			server := newORB(t, tc.server, orb.WithAuthenticator(a))
			p, err := server.ExportObject(whoami{})
			require.NoError(t, err)
			require.NoError(t, server.Registry().Bind(ctx, "whoami", p))
			uri := server.URIs()[0]

			client := newORB(t, tc.client)
			reg, err := client.GetRegistry(ctx, orb.Properties{
				orb.PropProviderURI: uri,
				orb.PropPrincipal:   "jimmy",
				orb.PropCredentials: "secret",
			})
			require.NoError(t, err)
			w, err := reg.Lookup(ctx, "whoami")
			require.NoError(t, err)
			var name string
			require.NoError(t, w.Call(ctx, "Name", &name))
			require.Equal(t, "jimmy", name)

			var reasons []string
			for _, props := range []orb.Properties{
				{orb.PropProviderURI: uri},
				{orb.PropProviderURI: uri, orb.PropPrincipal: "jimmy", orb.PropCredentials: "guess"},
				{orb.PropProviderURI: uri, orb.PropPrincipal: "bob", orb.PropCredentials: "secret"},
			} {
				_, err := client.GetRegistry(ctx, props)
				require.ErrorIs(t, err, orb.ErrAccessDenied)
				var ae *orb.AccessError
				require.True(t, errors.As(err, &ae))
				reasons = append(reasons, ae.Reason)
			}
			require.Equal(t, []string{"authentication failed", "authentication failed", "authentication failed"}, reasons)
		})
	}
}

func TestAnonymousConnect(t *testing.T) {
	ctx := testContext(t)
	server := newORB(t, orb.Properties{orb.PropURI: "tcp://localhost:0"})
	p, err := server.ExportObject(whoami{})
	require.NoError(t, err)
	require.NoError(t, server.Registry().Bind(ctx, "whoami", p))

	client := newORB(t, nil)
	reg, err := client.GetRegistry(ctx, orb.Properties{orb.PropProviderURI: server.URIs()[0]})
	require.NoError(t, err)
	w, err := reg.Lookup(ctx, "whoami")
	require.NoError(t, err)
	var name string
	require.NoError(t, w.Call(ctx, "Name", &name))
	require.Equal(t, "anonymous", name)

	// a local call has no connection to authenticate
	require.NoError(t, p.Call(ctx, "Name", &name))
	require.Equal(t, "anonymous", name)
}

func TestPrincipalsDoNotShareConnections(t *testing.T) {
	ctx := testContext(t)
	server := newORB(t, orb.Properties{orb.PropURI: "tcp://localhost:0"})
	p, err := server.ExportObject(whoami{})
	require.NoError(t, err)
	require.NoError(t, server.Registry().Bind(ctx, "whoami", p))
	client := newORB(t, nil)

	names := make([]string, 0, 2)
	for _, user := range []string{"alice", "bob"} {
		reg, err := client.GetRegistry(ctx, orb.Properties{
			orb.PropProviderURI: server.URIs()[0],
			orb.PropPrincipal:   user,
		})
		require.NoError(t, err)
		w, err := reg.Lookup(ctx, "whoami")
		require.NoError(t, err)
		var name string
		require.NoError(t, w.Call(ctx, "Name", &name))
		names = append(names, name)
	}
	require.Equal(t, []string{"alice", "bob"}, names)
	require.Equal(t, 2, client.Status().Connections.Client)
}

func TestNeedClientAuth(t *testing.T) {
	ctx := testContext(t)
	m := newTLSMaterial(t)
	server, _ := echoServer(t, orb.Properties{
		orb.PropURI:            "tcps://localhost:0",
		orb.PropKeyStore:       m.server,
		orb.PropTrustStore:     m.ca,
		orb.PropNeedClientAuth: "true",
	})
	uri := server.URIs()[0]
	client := newORB(t, nil)

	_, err := client.GetRegistry(ctx, orb.Properties{
		orb.PropProviderURI: uri,
		orb.PropTrustStore:  m.ca,
	})
	require.Error(t, err)

	_, e := lookupEcho(t, client, server, orb.Properties{
		orb.PropTrustStore: m.ca,
		orb.PropKeyStore:   m.client,
	})
	var s string
	require.NoError(t, e.Call(ctx, "EchoString", &s, "mutual"))
	require.Equal(t, "mutual", s)
}

func TestUntrustedServerCertificate(t *testing.T) {
	ctx := testContext(t)
	m := newTLSMaterial(t)
	other := newTLSMaterial(t)
	server, _ := echoServer(t, orb.Properties{
		orb.PropURI:      "tcps://localhost:0",
		orb.PropKeyStore: m.server,
	})
	client := newORB(t, nil)
	_, err := client.GetRegistry(ctx, orb.Properties{
		orb.PropProviderURI: server.URIs()[0],
		orb.PropTrustStore:  other.ca,
	})
	require.ErrorIs(t, err, orb.ErrConnectivity)
}
