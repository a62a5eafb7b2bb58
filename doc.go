// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package orb lets a process export objects and have other processes, or
// itself, invoke their methods through location transparent proxies.
//
// # Transports
//
// Every transport is addressed by the scheme of its uri:
//
//	tcp://host:port         plain socket
//	tcps://host:port        TLS socket (orb.net.tls.* properties)
//	http://host:port/path   websocket tunnel, optionally through an HTTP proxy
//	https://host:port/path  websocket tunnel over TLS
//	vm://name               in-process, no network I/O
//	grpc://host:port        bidirectional gRPC stream
//
// Transports share one contract (ManagedConnectionFactory,
// ManagedConnection and ManagedConnectionAcceptor); only their RequestInfo
// differs. New transports are added with RegisterTransport.
//
// # Usage
//
// Server:
//
//	server, err := orb.New(orb.Properties{orb.PropURI: "tcp://localhost:3030"},
//	    orb.WithAuthenticator(auth))
//	if err != nil {
//	    return err
//	}
//	defer server.Shutdown()
//
//	proxy, err := server.ExportObject(&EchoService{})
//	if err != nil {
//	    return err
//	}
//	server.Registry().Bind(ctx, "echo", proxy)
//
// Client:
//
//	client, _ := orb.New(nil)
//	registry, err := client.GetRegistry(ctx, orb.Properties{
//	    orb.PropProviderURI: "tcp://localhost:3030",
//	    orb.PropPrincipal:   "user",
//	    orb.PropCredentials: "password",
//	})
//	if err != nil {
//	    return err
//	}
//	echo, err := registry.Lookup(ctx, "echo")
//	if err != nil {
//	    return err
//	}
//	var n int
//	err = echo.Call(ctx, "EchoInt", &n, 42)
//
// # Failures
//
// Calls return the typed errors of errors.go. Errors an exported object
// declares through DeclaredErrors reach the caller as themselves; any other
// failure arrives as an *InvocationError naming its type and message.
// Nothing is retried: a failed connection is closed and the next call opens
// a fresh one.
//
// # Concurrency
//
// One invocation is in flight per connection. Concurrent calls lease
// separate pooled connections, matched by RequestInfo equality and
// principal. Cancelling a call's context closes its connection, which is
// the only way to abort it.
package orb
