// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"net"
	"sync"
	"time"
)

// messageStream moves whole frames. Byte stream transports length prefix
// them; message oriented transports (websocket, grpc) map one frame to one
// message.
type messageStream interface {
	ReadMessage() ([]byte, error)
	WriteMessage(msg []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// netStream frames messages over a net.Conn (tcp, tls, in-process pipe).
type netStream struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func newNetStream(conn net.Conn) *netStream {
	return &netStream{conn: conn}
}

func (s *netStream) ReadMessage() ([]byte, error) {
	return readMessage(s.conn)
}

func (s *netStream) WriteMessage(msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return writeMessage(s.conn, msg)
}

func (s *netStream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *netStream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }
func (s *netStream) Close() error                       { return s.conn.Close() }

func (s *netStream) RemoteAddr() string {
	if a := s.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
