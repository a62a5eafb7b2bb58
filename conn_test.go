// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pipeConns returns two unauthenticated connections over an in-memory
// pipe.
func pipeConns(t *testing.T) (*managedConn, *managedConn) {
	info, err := NewInProcRequestInfo("vm://pipe")
	require.NoError(t, err)
	a, b := net.Pipe()
	client := newManagedConn(newNetStream(a), info, zap.NewNop())
	server := newManagedConn(newNetStream(b), info, zap.NewNop())
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHandshake(t *testing.T) {
	ctx := testCtx(t)
	client, server := pipeConns(t)
	auth := NewPasswordAuthenticator()
	require.NoError(t, auth.AddUser("jimmy", "secret"))

	done := make(chan error, 1)
	go func() { done <- serverHandshake(ctx, server, auth, "server-orb") }()

	claim := &Principal{Name: "jimmy", Credential: "secret"}
	require.NoError(t, clientHandshake(ctx, client, claim, "client-orb"))
	require.NoError(t, <-done)

	require.Equal(t, ConnConnected, client.State())
	require.Equal(t, ConnConnected, server.State())
	require.Equal(t, "server-orb", client.RemoteORB())
	require.Equal(t, "client-orb", server.RemoteORB())
	require.Equal(t, "jimmy", server.Principal().Name)
	require.Empty(t, server.Principal().Credential)
}

func TestHandshakeRejected(t *testing.T) {
	ctx := testCtx(t)
	client, server := pipeConns(t)
	auth := NewPasswordAuthenticator()
	require.NoError(t, auth.AddUser("jimmy", "secret"))

	done := make(chan error, 1)
	go func() { done <- serverHandshake(ctx, server, auth, "server-orb") }()

	err := clientHandshake(ctx, client, &Principal{Name: "jimmy", Credential: "guess"}, "client-orb")
	var ae *AccessError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "authentication failed", ae.Reason)
	require.ErrorIs(t, <-done, ErrAccessDenied)
	require.Equal(t, ConnClosed, client.State())
	require.Equal(t, ConnClosed, server.State())
}

func TestHandshakeOutOfSequence(t *testing.T) {
	ctx := testCtx(t)
	client, server := pipeConns(t)

	go client.Send(ctx, &Frame{Type: FrameRequest, ID: 1, Body: []byte{1}})
	err := serverHandshake(ctx, server, AllowAll, "server-orb")
	require.ErrorIs(t, err, ErrProtocol)
	require.Equal(t, ConnClosed, server.State())
}

func TestReceiveGarbage(t *testing.T) {
	ctx := testCtx(t)
	info, err := NewInProcRequestInfo("vm://pipe")
	require.NoError(t, err)
	a, b := net.Pipe()
	defer a.Close()
	c := newManagedConn(newNetStream(b), info, zap.NewNop())

	go a.Write([]byte{0, 0, 0, 5, 0xee, 0, 0, 0, 1})
	_, err = c.Receive(ctx)
	require.ErrorIs(t, err, ErrProtocol)
	require.Equal(t, ConnClosed, c.State())

	_, err = c.Receive(ctx)
	require.ErrorIs(t, err, ErrConnectivity)
	require.ErrorIs(t, c.Send(ctx, &Frame{Type: FrameClose}), ErrConnClosed)
}

func TestRoundTripMismatchedResponse(t *testing.T) {
	ctx := testCtx(t)
	client, server := pipeConns(t)

	go func() {
		f, err := server.Receive(ctx)
		if err != nil {
			return
		}
		server.Send(ctx, &Frame{Type: FrameResponse, ID: f.ID + 1})
	}()
	_, err := roundTrip(ctx, client, []byte("request"))
	require.ErrorIs(t, err, ErrProtocol)
	require.Equal(t, ConnClosed, client.State())
}

func TestReceiveCancelled(t *testing.T) {
	client, _ := pipeConns(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := client.Receive(ctx)
	require.ErrorIs(t, err, ErrConnectivity)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, ConnClosed, client.State())
	select {
	case <-client.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestHangUp(t *testing.T) {
	ctx := testCtx(t)
	client, server := pipeConns(t)

	received := make(chan *Frame, 1)
	go func() {
		f, err := server.Receive(ctx)
		if err == nil {
			received <- f
		}
		close(received)
	}()
	require.NoError(t, hangUp(client))
	f, ok := <-received
	require.True(t, ok)
	require.Equal(t, FrameClose, f.Type)
	require.Equal(t, ConnClosed, client.State())

	// hanging up a closed connection only closes it again
	require.NoError(t, hangUp(client))
}

// scriptedPeer accepts connections on vm://name, completes the handshake
// and answers every request with respond. Connections stay open until the
// test ends.
func scriptedPeer(t *testing.T, name string, respond func(req *Frame) *Frame) string {
	ctx := testCtx(t)
	uri := "vm://" + name
	info, err := NewInProcRequestInfo(uri)
	require.NoError(t, err)
	l := &inprocListener{name: name, conns: make(chan net.Conn), done: make(chan struct{})}
	inprocHub.Lock()
	inprocHub.listeners[name] = l
	inprocHub.Unlock()
	t.Cleanup(func() { l.close() })

	go func() {
		for {
			s, err := l.accept()
			if err != nil {
				return
			}
			c := newManagedConn(s, info, zap.NewNop())
			go func() {
				defer c.Close()
				if err := serverHandshake(ctx, c, AllowAll, "scripted"); err != nil {
					return
				}
				for {
					f, err := c.Receive(ctx)
					if err != nil {
						return
					}
					if err := c.Send(ctx, respond(f)); err != nil {
						return
					}
				}
			}()
		}
	}()
	return uri
}

func TestMalformedResponseClosesConnection(t *testing.T) {
	ctx := testCtx(t)
	uri := scriptedPeer(t, "garbled", func(req *Frame) *Frame {
		return &Frame{Type: FrameResponse, ID: req.ID, Body: []byte{0xff}}
	})

	o, err := New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { o.Shutdown() })
	info, err := o.requestInfo(Properties{PropURI: uri})
	require.NoError(t, err)
	p, err := o.newRemoteProxy(objectRef{URI: uri, ID: 7}, info, nil)
	require.NoError(t, err)

	err = p.Call(ctx, "Anything", nil)
	require.ErrorIs(t, err, ErrProtocol)
	require.Equal(t, PoolStats{}, o.pool.stats())

	// the next call dials again instead of reusing the broken connection
	err = p.Call(ctx, "Anything", nil)
	require.ErrorIs(t, err, ErrProtocol)
	require.Equal(t, PoolStats{}, o.pool.stats())
}
