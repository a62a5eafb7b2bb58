// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrorDeclarer is implemented by exported objects whose methods return
// typed errors callers are meant to handle. Declared errors cross the wire
// as themselves; every other failure arrives as an *InvocationError.
type ErrorDeclarer interface {
	DeclaredErrors() []error
}

var errorTypes = struct {
	sync.RWMutex
	byName map[string]reflect.Type
}{byName: make(map[string]reflect.Type)}

func init() {
	RegisterError(&BindingError{})
	RegisterError(&AccessError{})
}

// RegisterError makes the dynamic type of proto known to this process, so
// declared errors of that type can be rebuilt from responses. Exporting an
// object registers its declared errors automatically; clients register the
// types they expect. The type must survive a round trip through the codec.
func RegisterError(proto error) {
	if proto == nil {
		return
	}
	t := reflect.TypeOf(proto)
	errorTypes.Lock()
	errorTypes.byName[errorTypeName(t)] = t
	errorTypes.Unlock()
}

func errorTypeName(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// newError allocates a zero error of a registered type and the value the
// payload is decoded into.
func newError(name string) (error, interface{}, bool) {
	errorTypes.RLock()
	t, ok := errorTypes.byName[name]
	errorTypes.RUnlock()
	if !ok {
		return nil, nil, false
	}
	if t.Kind() == reflect.Pointer {
		v := reflect.New(t.Elem())
		err, ok := v.Interface().(error)
		return err, v.Interface(), ok
	}
	v := reflect.New(t)
	return nil, v.Interface(), true
}

// declaredTypes returns the error types obj declares.
func declaredTypes(obj interface{}) []reflect.Type {
	d, ok := obj.(ErrorDeclarer)
	if !ok {
		return nil
	}
	var types []reflect.Type
	for _, e := range d.DeclaredErrors() {
		if e == nil {
			continue
		}
		RegisterError(e)
		types = append(types, reflect.TypeOf(e))
	}
	return types
}

// findDeclared returns the first error in err's chain whose type is
// declared.
func findDeclared(err error, declared []reflect.Type) error {
	for _, t := range declared {
		target := reflect.New(t)
		if errors.As(err, target.Interface()) {
			if e, ok := target.Elem().Interface().(error); ok {
				return e
			}
		}
	}
	return nil
}

// wrapFailure turns an undeclared failure into an InvocationError. Failures
// raised by dispatch itself already are one.
func wrapFailure(err error) *InvocationError {
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie
	}
	return &InvocationError{
		Class:   fmt.Sprintf("%T", err),
		Message: err.Error(),
		Cause:   err,
	}
}

// encodeResult builds the response body of a dispatched invocation.
func encodeResult(codec Codec, dr *dispatchResult) *result {
	switch {
	case dr.err == nil:
		return &result{status: statusOK, value: dr.value}
	case dr.declared != nil:
		payload, err := codec.Encode(dr.declared)
		if err == nil {
			return &result{
				status:     statusDeclared,
				errType:    errorTypeName(reflect.TypeOf(dr.declared)),
				errMessage: dr.declared.Error(),
				errPayload: payload,
			}
		}
	}
	ie := wrapFailure(dr.err)
	return &result{status: statusWrapped, errType: ie.Class, errMessage: ie.Message}
}

// decodeFailure rebuilds the error carried by a response. A declared error
// of a type this process does not know degrades to an InvocationError.
func decodeFailure(codec Codec, r *result) error {
	if r.status == statusDeclared {
		if err, into, ok := newError(r.errType); ok {
			if codec.Decode(r.errPayload, into) == nil {
				if err != nil {
					return err
				}
				if e, ok := reflect.ValueOf(into).Elem().Interface().(error); ok {
					return e
				}
			}
		}
	}
	return &InvocationError{Class: r.errType, Message: r.errMessage}
}
