// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unpack

import (
	"time"

	"github.com/go-lpc/sts/stsxyter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the unpacking counters as Prometheus metrics.
type Metrics struct {
	timeslices  prometheus.Counter
	microslices prometheus.Counter
	unknown     prometheus.Counter
	hits        prometheus.Counter
	errors      *prometheus.CounterVec // by error counter name
	messages    *prometheus.CounterVec // by message kind
	duration    prometheus.Histogram
}

// NewMetrics creates the unpacking metrics and registers them with reg.
// A nil registerer creates unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		timeslices: f.NewCounter(prometheus.CounterOpts{
			Name: "sts_unpack_timeslices_total",
			Help: "Number of unpacked timeslices",
		}),
		microslices: f.NewCounter(prometheus.CounterOpts{
			Name: "sts_unpack_microslices_total",
			Help: "Number of decoded microslices",
		}),
		unknown: f.NewCounter(prometheus.CounterOpts{
			Name: "sts_unpack_unknown_microslices_total",
			Help: "Number of microslices skipped for lack of calibration",
		}),
		hits: f.NewCounter(prometheus.CounterOpts{
			Name: "sts_unpack_hits_total",
			Help: "Number of emitted hits",
		}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sts_unpack_errors_total",
			Help: "Number of decoding errors, by counter",
		}, []string{"counter"}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sts_unpack_messages_total",
			Help: "Number of decoded messages, by kind",
		}, []string{"kind"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sts_unpack_timeslice_seconds",
			Help:    "Time spent unpacking a timeslice",
			Buckets: prometheus.ExponentialBuckets(1e-4, 4, 10),
		}),
	}

	stsxyter.ErrorCounters{}.Each(func(name string, _ uint64) {
		m.errors.WithLabelValues(name)
	})
	for k := 0; k < stsxyter.NumKinds; k++ {
		m.messages.WithLabelValues(stsxyter.Kind(k).String())
	}

	return m
}

// Observe records the outcome of the unpacking of a timeslice.
func (m *Metrics) Observe(res Result, dt time.Duration) {
	m.timeslices.Inc()
	m.microslices.Add(float64(res.Microslices))
	m.unknown.Add(float64(res.Unknown))
	m.hits.Add(float64(len(res.Hits)))
	res.Errors.Each(func(name string, n uint64) {
		if n == 0 {
			return
		}
		m.errors.WithLabelValues(name).Add(float64(n))
	})
	for k, n := range res.Monitor.Messages {
		if n == 0 {
			continue
		}
		m.messages.WithLabelValues(stsxyter.Kind(k).String()).Add(float64(n))
	}
	m.duration.Observe(dt.Seconds())
}
