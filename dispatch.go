// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"context"
	"fmt"
	"reflect"
)

// ObjectID identifies an exported object within its ORB.
type ObjectID uint64

// registryObjectID is where every ORB exports the remote view of its
// registry. Exported objects are numbered after it.
const registryObjectID ObjectID = 1

// objectRef is how a proxy travels: the ORB owning the object, a uri that
// reaches that ORB and the object id.
type objectRef struct {
	ORB string   `json:"orb"`
	URI string   `json:"uri"`
	ID  ObjectID `json:"id"`
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	proxyType   = reflect.TypeOf((*Proxy)(nil))
)

// servant is an exported object and the methods callable on it.
type servant struct {
	id       ObjectID
	methods  map[string]*method
	declared []reflect.Type
}

type method struct {
	name      string
	fn        reflect.Value
	hasCtx    bool
	params    []reflect.Type
	hasResult bool
	hasError  bool
}

func newServant(id ObjectID, obj interface{}) *servant {
	s := &servant{
		id:       id,
		methods:  make(map[string]*method),
		declared: declaredTypes(obj),
	}
	v := reflect.ValueOf(obj)
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if m.Name == "DeclaredErrors" {
			continue
		}
		if mm := newMethod(m.Name, v.Method(i)); mm != nil {
			s.methods[m.Name] = mm
		}
	}
	return s
}

// newMethod returns nil for methods that cannot be invoked remotely.
func newMethod(name string, fn reflect.Value) *method {
	ft := fn.Type()
	m := &method{name: name, fn: fn}
	for i := 0; i < ft.NumIn(); i++ {
		in := ft.In(i)
		if i == 0 && in == contextType {
			m.hasCtx = true
			continue
		}
		if !encodable(in) || ft.IsVariadic() {
			return nil
		}
		m.params = append(m.params, in)
	}
	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			m.hasError = true
		} else if encodable(ft.Out(0)) {
			m.hasResult = true
		} else {
			return nil
		}
	case 2:
		if ft.Out(1) != errorType || !encodable(ft.Out(0)) {
			return nil
		}
		m.hasResult = true
		m.hasError = true
	default:
		return nil
	}
	return m
}

func encodable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return false
	}
	return t != contextType
}

// call runs the method, turning a panic into an InvocationError.
func (m *method) call(args []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			ie := &InvocationError{Class: fmt.Sprintf("%T", r), Message: fmt.Sprint(r)}
			if e, ok := r.(error); ok {
				ie.Cause = e
			}
			err = ie
		}
	}()
	return m.fn.Call(args), nil
}

// dispatchResult is the outcome of one dispatched invocation: an encoded
// value, or the failure and its declared form when there is one.
type dispatchResult struct {
	value    []byte
	err      error
	declared error
}

func failed(class, format string, args ...interface{}) *dispatchResult {
	return &dispatchResult{err: &InvocationError{Class: class, Message: fmt.Sprintf(format, args...)}}
}

// dispatch invokes inv against an exported object. via is the uri this
// ORB is reached through by the caller; local proxies in the result are
// advertised under it.
func (o *ORB) dispatch(ctx context.Context, inv *invocation, via string) *dispatchResult {
	s := o.servant(inv.object)
	if s == nil {
		return failed(ClassNoSuchObject, "object %d is not exported", inv.object)
	}
	m, ok := s.methods[inv.method]
	if !ok {
		return failed(ClassNoSuchMethod, "object %d has no method %s", inv.object, inv.method)
	}
	if len(inv.args) != len(m.params) {
		return failed(ClassBadArguments, "%s takes %d arguments, got %d", m.name, len(m.params), len(inv.args))
	}

	args := make([]reflect.Value, 0, len(m.params)+1)
	if m.hasCtx {
		args = append(args, reflect.ValueOf(ctx))
	}
	for i, t := range m.params {
		v, err := o.decodeValue(inv.args[i], t, nil)
		if err != nil {
			return failed(ClassBadArguments, "%s argument %d: %v", m.name, i, err)
		}
		args = append(args, v)
	}

	out, err := m.call(args)
	if err != nil {
		return &dispatchResult{err: err}
	}
	if m.hasError {
		if e := out[len(out)-1]; !e.IsNil() {
			err := e.Interface().(error)
			return &dispatchResult{err: err, declared: findDeclared(err, s.declared)}
		}
	}
	dr := &dispatchResult{}
	if m.hasResult {
		if dr.value, err = o.encodeValue(out[0].Interface(), via); err != nil {
			return failed(ClassBadResult, "%s result: %v", m.name, err)
		}
	}
	return dr
}

// encodeValue encodes an argument or result. Proxies travel as object
// references; a local one is advertised under via, or the first acceptor
// of this ORB when via is empty.
func (o *ORB) encodeValue(v interface{}, via string) ([]byte, error) {
	p, ok := v.(*Proxy)
	if !ok {
		return o.codec.Encode(v)
	}
	if p == nil {
		return o.codec.Encode(nil)
	}
	ref, err := o.refFor(p, via)
	if err != nil {
		return nil, err
	}
	return o.codec.Encode(ref)
}

// decodeValue decodes data into a new value of type t. Object references
// become proxies that inherit parent's connection parameters.
func (o *ORB) decodeValue(data []byte, t reflect.Type, parent *Proxy) (reflect.Value, error) {
	if t == proxyType {
		var ref *objectRef
		if err := o.codec.Decode(data, &ref); err != nil {
			return reflect.Value{}, err
		}
		if ref == nil {
			return reflect.Zero(proxyType), nil
		}
		p, err := o.resolve(*ref, parent)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(p), nil
	}
	v := reflect.New(t)
	if err := o.codec.Decode(data, v.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return v.Elem(), nil
}
