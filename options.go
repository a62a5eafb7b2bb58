// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultWorkers          = 64
)

// Option configures an ORB
type Option func(*options)

type options struct {
	logger           *zap.Logger
	auth             Authenticator
	codec            Codec
	workers          int
	idleTimeout      time.Duration
	handshakeTimeout time.Duration
	dialTimeout      time.Duration
	clock            clock.Clock
	registerer       prometheus.Registerer
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:           zap.NewNop(),
		auth:             AllowAll,
		codec:            defaultCodec,
		workers:          DefaultWorkers,
		idleTimeout:      DefaultIdleTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
		dialTimeout:      DefaultDialTimeout,
		clock:            clock.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registerer == nil {
		o.registerer = prometheus.NewRegistry()
	}
	return o
}

// WithLogger sets the logger of the ORB and everything it owns
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAuthenticator sets the authenticator applied to inbound connections.
// The default accepts every principal, anonymous ones included.
func WithAuthenticator(a Authenticator) Option {
	return func(o *options) {
		if a != nil {
			o.auth = a
		}
	}
}

// WithCodec sets the codec for arguments, results and error payloads.
// Both ends must agree on it.
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithWorkers bounds the number of concurrently negotiating connections and
// dispatched invocations.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithIdleTimeout sets how long an unused connection is kept open
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleTimeout = d
		}
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// WithClock replaces the wall clock driving idle reaping
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMetricsRegisterer registers the ORB metrics on r instead of a
// private registry.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}
