// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/orb"
	"github.com/luxfi/orb/internal/echo"
)

func testContext(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newORB creates an ORB shut down at the end of the test.
func newORB(t testing.TB, props orb.Properties, opts ...orb.Option) *orb.ORB {
	t.Helper()
	o, err := orb.New(props, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { o.Shutdown() })
	return o
}

// tlsMaterial is a throwaway CA with a server and a client certificate,
// written as PEM key stores.
type tlsMaterial struct {
	ca     string
	server string
	client string
}

func newTLSMaterial(t testing.TB) tlsMaterial {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "orb test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	m := tlsMaterial{
		ca:     filepath.Join(dir, "ca.pem"),
		server: filepath.Join(dir, "server.pem"),
		client: filepath.Join(dir, "client.pem"),
	}
	require.NoError(t, os.WriteFile(m.ca, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}), 0o600))

	leaf := func(path, name string, serial int64, usage x509.ExtKeyUsage) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(serial),
			Subject:      pkix.Name{CommonName: name},
			DNSNames:     []string{"localhost"},
			IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(time.Hour),
			KeyUsage:     x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
		require.NoError(t, err)
		keyDER, err := x509.MarshalECPrivateKey(key)
		require.NoError(t, err)
		data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
		data = append(data, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})...)
		require.NoError(t, os.WriteFile(path, data, 0o600))
	}
	leaf(m.server, "server", 2, x509.ExtKeyUsageServerAuth)
	leaf(m.client, "client", 3, x509.ExtKeyUsageClientAuth)
	return m
}

// transportCase is a server and a client configuration for one transport.
type transportCase struct {
	name   string
	server orb.Properties
	client orb.Properties
}

func transportCases(t testing.TB) []transportCase {
	m := newTLSMaterial(t)
	return []transportCase{
		{
			name:   "tcp",
			server: orb.Properties{orb.PropURI: "tcp://localhost:0"},
		},
		{
			name: "tcps",
			server: orb.Properties{
				orb.PropURI:      "tcps://localhost:0",
				orb.PropKeyStore: m.server,
			},
			client: orb.Properties{orb.PropTrustStore: m.ca},
		},
		{
			name:   "http",
			server: orb.Properties{orb.PropURI: "http://localhost:0/orb/tunnel"},
		},
		{
			name: "https",
			server: orb.Properties{
				orb.PropURI:      "https://localhost:0/orb/tunnel",
				orb.PropKeyStore: m.server,
			},
			client: orb.Properties{orb.PropTrustStore: m.ca},
		},
		{
			name:   "vm",
			server: orb.Properties{orb.PropURI: "vm://" + uuid.NewString()},
		},
		{
			name:   "grpc",
			server: orb.Properties{orb.PropURI: "grpc://localhost:0"},
		},
	}
}

// echoServer starts an ORB on props with an echo service bound as "echo".
func echoServer(t testing.TB, props orb.Properties, opts ...orb.Option) (*orb.ORB, *echo.Service) {
	t.Helper()
	server := newORB(t, props, opts...)
	svc := echo.New()
	p, err := server.ExportObject(svc)
	require.NoError(t, err)
	require.NoError(t, server.Registry().Bind(context.Background(), "echo", p))
	return server, svc
}

// lookupEcho returns the remote registry of server and the echo proxy in it.
func lookupEcho(t testing.TB, client, server *orb.ORB, extra orb.Properties) (orb.Registry, *orb.Proxy) {
	t.Helper()
	ctx := testContext(t)
	props := orb.Properties{orb.PropProviderURI: server.URIs()[0]}
	for k, v := range extra {
		props.Set(k, v)
	}
	reg, err := client.GetRegistry(ctx, props)
	require.NoError(t, err)
	p, err := reg.Lookup(ctx, "echo")
	require.NoError(t, err)
	return reg, p
}
