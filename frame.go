// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType identifies frames exchanged on a managed connection.
type FrameType uint8

const (
	FrameHello    FrameType = 0x01
	FrameHelloAck FrameType = 0x02
	FrameReject   FrameType = 0x03
	FrameRequest  FrameType = 0x04
	FrameResponse FrameType = 0x05
	FrameClose    FrameType = 0x06
)

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameHelloAck:
		return "hello-ack"
	case FrameReject:
		return "reject"
	case FrameRequest:
		return "request"
	case FrameResponse:
		return "response"
	case FrameClose:
		return "close"
	default:
		return fmt.Sprintf("frame(0x%02x)", uint8(t))
	}
}

func (t FrameType) valid() bool {
	return t >= FrameHello && t <= FrameClose
}

const (
	frameHeaderLen = 5                // [1 type][4 id]
	maxFrameLen    = 64 * 1024 * 1024 // 64MB max
)

// Frame is one message on a managed connection. ID correlates a response
// with its request.
type Frame struct {
	Type FrameType
	ID   uint32
	Body []byte
}

// marshal encodes: [1 type][4 id][body]
func (f *Frame) marshal() []byte {
	buf := make([]byte, frameHeaderLen+len(f.Body))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:5], f.ID)
	copy(buf[5:], f.Body)
	return buf
}

func unmarshalFrame(msg []byte) (*Frame, error) {
	if len(msg) < frameHeaderLen {
		return nil, protocolErrorf("short frame (%d bytes)", len(msg))
	}
	t := FrameType(msg[0])
	if !t.valid() {
		return nil, protocolErrorf("unknown frame type 0x%02x", msg[0])
	}
	return &Frame{
		Type: t,
		ID:   binary.BigEndian.Uint32(msg[1:5]),
		Body: msg[5:],
	}, nil
}

// writeMessage writes one length prefixed message: [4 len][msg]. The write
// is a single call so a short write is never silently followed by the next
// message.
func writeMessage(w io.Writer, msg []byte) error {
	if len(msg) == 0 || len(msg) > maxFrameLen {
		return protocolErrorf("frame length %d out of range", len(msg))
	}
	buf := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(msg)))
	copy(buf[4:], msg)
	n, err := w.Write(buf)
	if err == nil && n != len(buf) {
		err = io.ErrShortWrite
	}
	return err
}

// readMessage reads one length prefixed message. A stream that ends inside
// a message yields io.ErrUnexpectedEOF.
func readMessage(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	msgLen := binary.BigEndian.Uint32(header)
	if msgLen == 0 || msgLen > maxFrameLen {
		return nil, protocolErrorf("frame length %d out of range", msgLen)
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return msg, nil
}
