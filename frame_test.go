// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	f := &Frame{Type: FrameRequest, ID: 0xdeadbeef, Body: []byte("payload")}
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, f.marshal()))
	require.Equal(t, 4+frameHeaderLen+len(f.Body), buf.Len())

	msg, err := readMessage(&buf)
	require.NoError(t, err)
	got, err := unmarshalFrame(msg)
	require.NoError(t, err)
	require.Equal(t, f, got)

	_, err = readMessage(&buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestFrameErrors(t *testing.T) {
	_, err := unmarshalFrame([]byte{byte(FrameHello), 0, 0})
	require.ErrorIs(t, err, ErrProtocol)

	_, err = unmarshalFrame([]byte{0x7f, 0, 0, 0, 1})
	require.ErrorIs(t, err, ErrProtocol)
	require.Equal(t, "frame(0x7f)", FrameType(0x7f).String())

	require.ErrorIs(t, writeMessage(io.Discard, nil), ErrProtocol)

	header := func(n uint32) []byte {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, n)
		return b
	}
	_, err = readMessage(bytes.NewReader(header(0)))
	require.ErrorIs(t, err, ErrProtocol)
	_, err = readMessage(bytes.NewReader(header(maxFrameLen + 1)))
	require.ErrorIs(t, err, ErrProtocol)

	truncated := append(header(10), 1, 2, 3)
	_, err = readMessage(bytes.NewReader(truncated))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = readMessage(bytes.NewReader([]byte{0, 0}))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestMessageBodies(t *testing.T) {
	inv := &invocation{object: 42, method: "EchoInt", args: [][]byte{[]byte("1"), []byte(`"two"`)}}
	var gotInv invocation
	require.NoError(t, gotInv.unmarshal(inv.marshal()))
	require.Equal(t, *inv, gotInv)

	res := &result{status: statusDeclared, errType: "orb.BindingError", errMessage: "not bound", errPayload: []byte(`{}`)}
	var gotRes result
	require.NoError(t, gotRes.unmarshal(res.marshal()))
	require.Equal(t, *res, gotRes)

	h := &hello{version: protocolVersion, principal: &Principal{Name: "jimmy", Credential: "secret"}, orb: "client"}
	var gotHello hello
	require.NoError(t, gotHello.unmarshal(h.marshal()))
	require.Equal(t, h.principal, gotHello.principal)
	require.Equal(t, "client", gotHello.orb)

	anonymous := &hello{version: protocolVersion, orb: "client"}
	gotHello = hello{}
	require.NoError(t, gotHello.unmarshal(anonymous.marshal()))
	require.Nil(t, gotHello.principal)

	bad := &result{status: statusWrapped + 1}
	require.ErrorIs(t, new(result).unmarshal(bad.marshal()), ErrProtocol)
	require.ErrorIs(t, new(invocation).unmarshal([]byte{0xff, 0xff, 0xff}), ErrProtocol)
}
