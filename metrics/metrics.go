// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package metrics exposes process meters through a minimal facade. The
// default backend is a no-op; the CLI switches to the prometheus backend with
// InitPrometheus. Components grab meters by name and never care which backend
// is live.
package metrics

import (
	"net/http"
	"sync/atomic"
)

// CountMeter is a monotonically increasing counter.
type CountMeter interface {
	Add(int64)
}

// CountVecMeter is a counter with labels.
type CountVecMeter interface {
	AddWithLabels(int64, map[string]string)
}

// GaugeMeter is a value that can move both ways.
type GaugeMeter interface {
	Set(float64)
}

// GaugeVecMeter is a gauge with labels.
type GaugeVecMeter interface {
	SetWithLabels(float64, map[string]string)
}

// HistogramMeter observes a distribution of int64 samples, typically
// millisecond latencies.
type HistogramMeter interface {
	Observe(int64)
}

// Backend creates meters. Implementations must return the same meter for the
// same name.
type Backend interface {
	Counter(name string) CountMeter
	CounterVec(name string, labels []string) CountVecMeter
	Gauge(name string) GaugeMeter
	GaugeVec(name string, labels []string) GaugeVecMeter
	Histogram(name string, buckets []int64) HistogramMeter
	Handler() http.Handler
}

// Millisecond latency buckets for RPC and health-check observations.
var BucketRPC = []int64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

var backend atomic.Pointer[Backend]

func init() {
	var b Backend = noopBackend{}
	backend.Store(&b)
}

func current() Backend { return *backend.Load() }

// InitPrometheus switches the process to the prometheus backend.
func InitPrometheus() {
	var b Backend = newPromBackend()
	backend.Store(&b)
}

// Counter returns the named counter from the live backend.
func Counter(name string) CountMeter { return lazyCounter{name} }

// CounterVec returns the named labelled counter.
func CounterVec(name string, labels []string) CountVecMeter { return lazyCounterVec{name, labels} }

// Gauge returns the named gauge.
func Gauge(name string) GaugeMeter { return lazyGauge{name} }

// GaugeVec returns the named labelled gauge.
func GaugeVec(name string, labels []string) GaugeVecMeter { return lazyGaugeVec{name, labels} }

// Histogram returns the named histogram.
func Histogram(name string, buckets []int64) HistogramMeter { return lazyHistogram{name, buckets} }

// HTTPHandler serves the metrics endpoint of the live backend.
func HTTPHandler() http.Handler { return current().Handler() }

// Meters are handed out before the CLI picks a backend, so each meter resolves
// its backend per call rather than at construction.
type lazyCounter struct{ name string }

func (m lazyCounter) Add(v int64) { current().Counter(m.name).Add(v) }

type lazyCounterVec struct {
	name   string
	labels []string
}

func (m lazyCounterVec) AddWithLabels(v int64, l map[string]string) {
	current().CounterVec(m.name, m.labels).AddWithLabels(v, l)
}

type lazyGauge struct{ name string }

func (m lazyGauge) Set(v float64) { current().Gauge(m.name).Set(v) }

type lazyGaugeVec struct {
	name   string
	labels []string
}

func (m lazyGaugeVec) SetWithLabels(v float64, l map[string]string) {
	current().GaugeVec(m.name, m.labels).SetWithLabels(v, l)
}

type lazyHistogram struct {
	name    string
	buckets []int64
}

func (m lazyHistogram) Observe(v int64) { current().Histogram(m.name, m.buckets).Observe(v) }
