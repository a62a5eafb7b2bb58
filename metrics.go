// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orb

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "orb"

type metrics struct {
	invocations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	connections *prometheus.GaugeVec
	dials       *prometheus.CounterVec
	rejected    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invocations_total",
			Help:      "Invocations by side and outcome.",
		}, []string{"side", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "invocation_duration_seconds",
			Help:      "Invocation latency by side.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"side"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Open managed connections by role.",
		}, []string{"role"}),
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dials_total",
			Help:      "Outbound connection attempts by transport and outcome.",
		}, []string{"transport", "outcome"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rejected_connections_total",
			Help:      "Inbound connections that failed negotiation or authentication.",
		}, []string{"transport"}),
	}

	var err error
	m.invocations, err = register(reg, m.invocations)
	if err != nil {
		return nil, err
	}
	m.latency, err = register(reg, m.latency)
	if err != nil {
		return nil, err
	}
	m.connections, err = register(reg, m.connections)
	if err != nil {
		return nil, err
	}
	m.dials, err = register(reg, m.dials)
	if err != nil {
		return nil, err
	}
	m.rejected, err = register(reg, m.rejected)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register reuses the collector already registered under the same name, so
// several ORBs may share one registerer.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConnectivity):
		return "connectivity"
	case errors.Is(err, ErrAccessDenied):
		return "access"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrInvocation):
		return "invocation"
	default:
		return "error"
	}
}

func (m *metrics) observeInvocation(side string, start time.Time, err error) {
	m.invocations.WithLabelValues(side, outcome(err)).Inc()
	m.latency.WithLabelValues(side).Observe(time.Since(start).Seconds())
}
