// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// protocolVersion is sent in every hello; acceptors refuse other versions.
const protocolVersion = 1

type hello struct {
	version   uint64
	principal *Principal
	orb       string
}

func (m *hello) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.version)
	if m.principal != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, m.principal.Name)
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, m.principal.Credential)
	}
	b = appendString(b, 4, m.orb)
	return b
}

func (m *hello) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, v uint64, s []byte) {
		switch num {
		case 1:
			m.version = v
		case 2:
			m.claim().Name = string(s)
		case 3:
			m.claim().Credential = string(s)
		case 4:
			m.orb = string(s)
		}
	})
}

func (m *hello) claim() *Principal {
	if m.principal == nil {
		m.principal = &Principal{}
	}
	return m.principal
}

type helloAck struct {
	orb string
}

func (m *helloAck) marshal() []byte {
	return appendString(nil, 1, m.orb)
}

func (m *helloAck) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, _ uint64, s []byte) {
		if num == 1 {
			m.orb = string(s)
		}
	})
}

type reject struct {
	reason string
}

func (m *reject) marshal() []byte {
	return appendString(nil, 1, m.reason)
}

func (m *reject) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, _ uint64, s []byte) {
		if num == 1 {
			m.reason = string(s)
		}
	})
}

// invocation is the body of a request frame.
type invocation struct {
	object ObjectID
	method string
	args   [][]byte
}

func (m *invocation) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.object))
	b = appendString(b, 2, m.method)
	for _, a := range m.args {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, a)
	}
	return b
}

func (m *invocation) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, v uint64, s []byte) {
		switch num {
		case 1:
			m.object = ObjectID(v)
		case 2:
			m.method = string(s)
		case 3:
			m.args = append(m.args, append([]byte(nil), s...))
		}
	})
}

type resultStatus uint64

const (
	statusOK resultStatus = iota
	statusDeclared
	statusWrapped
)

// result is the body of a response frame: a value, a declared error or a
// wrapped one.
type result struct {
	status     resultStatus
	value      []byte
	errType    string
	errMessage string
	errPayload []byte
}

func (m *result) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.status))
	if m.value != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.value)
	}
	b = appendString(b, 3, m.errType)
	b = appendString(b, 4, m.errMessage)
	if m.errPayload != nil {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, m.errPayload)
	}
	return b
}

func (m *result) unmarshal(b []byte) error {
	err := consumeFields(b, func(num protowire.Number, v uint64, s []byte) {
		switch num {
		case 1:
			m.status = resultStatus(v)
		case 2:
			m.value = append([]byte{}, s...)
		case 3:
			m.errType = string(s)
		case 4:
			m.errMessage = string(s)
		case 5:
			m.errPayload = append([]byte{}, s...)
		}
	})
	if err == nil && m.status > statusWrapped {
		return protocolErrorf("unknown result status %d", m.status)
	}
	return err
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// consumeFields walks a protowire message calling fn with each varint or
// bytes field. Unknown wire types are skipped.
func consumeFields(b []byte, fn func(num protowire.Number, v uint64, s []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protocolErrorf("bad field tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protocolErrorf("bad varint field %d: %v", num, protowire.ParseError(n))
			}
			fn(num, v, nil)
			b = b[n:]
		case protowire.BytesType:
			s, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protocolErrorf("bad bytes field %d: %v", num, protowire.ParseError(n))
			}
			fn(num, 0, s)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protocolErrorf("bad field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}
