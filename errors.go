// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"errors"
	"fmt"
)

var (
	ErrNotBound      = errors.New("orb: name not bound")
	ErrAlreadyBound  = errors.New("orb: name already bound")
	ErrAccessDenied  = errors.New("orb: access denied")
	ErrConnectivity  = errors.New("orb: connectivity failure")
	ErrInvocation    = errors.New("orb: invocation failed")
	ErrProtocol      = errors.New("orb: protocol violation")
	ErrProxyDisposed = errors.New("orb: proxy already disposed")
	ErrConnClosed    = errors.New("orb: connection closed")
	ErrShutdown      = errors.New("orb: shut down")
	ErrNilObject     = errors.New("orb: cannot export nil object")
	ErrPoolClosed    = errors.New("orb: worker pool closed")
)

// BindingKind distinguishes the two registry binding failures.
type BindingKind int

const (
	NotBound BindingKind = iota + 1
	AlreadyBound
)

func (k BindingKind) String() string {
	switch k {
	case NotBound:
		return "not bound"
	case AlreadyBound:
		return "already bound"
	default:
		return fmt.Sprintf("binding(%d)", int(k))
	}
}

// BindingError reports a registry lookup/bind/unbind against the wrong
// binding state. It is recoverable by the caller.
type BindingError struct {
	Kind BindingKind `json:"kind"`
	Name string      `json:"name"`
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("orb: %q %s", e.Name, e.Kind)
}

func (e *BindingError) Is(target error) bool {
	switch target {
	case ErrNotBound:
		return e.Kind == NotBound
	case ErrAlreadyBound:
		return e.Kind == AlreadyBound
	}
	return false
}

// AccessError is returned for read-only violations and rejected credentials.
// It never says why authentication failed.
type AccessError struct {
	Reason string `json:"reason"`
}

func (e *AccessError) Error() string {
	return "orb: access denied: " + e.Reason
}

func (e *AccessError) Is(target error) bool { return target == ErrAccessDenied }

// ConnectivityError wraps transport level I/O, handshake and timeout failures.
type ConnectivityError struct {
	Op  string
	URI string
	Err error
}

func (e *ConnectivityError) Error() string {
	if e.URI == "" {
		return fmt.Sprintf("orb: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("orb: %s %s: %v", e.Op, e.URI, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

func (e *ConnectivityError) Is(target error) bool { return target == ErrConnectivity }

// InvocationError carries a server side failure that is not part of the
// target's declared contract. Cause is only set when the failure happened
// in this process.
type InvocationError struct {
	Class   string `json:"class"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("orb: invocation failed: %s: %s", e.Class, e.Message)
}

func (e *InvocationError) Unwrap() error { return e.Cause }

func (e *InvocationError) Is(target error) bool { return target == ErrInvocation }

// ProtocolError reports a malformed or out of sequence frame. The connection
// it was read from is always closed.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "orb: protocol violation: " + e.Reason
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

func protocolErrorf(format string, args ...interface{}) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

func connectivityError(op, uri string, err error) error {
	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return err
	}
	var ae *AccessError
	if errors.As(err, &ae) {
		return err
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return err
	}
	return &ConnectivityError{Op: op, URI: uri, Err: err}
}

// Well known invocation failure classes raised by dispatch itself.
const (
	ClassNoSuchObject = "orb.NoSuchObject"
	ClassNoSuchMethod = "orb.NoSuchMethod"
	ClassBadArguments = "orb.BadArguments"
	ClassBadResult    = "orb.BadResult"
)
