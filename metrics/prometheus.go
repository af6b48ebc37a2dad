// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evmgauntlet/gauntlet/log"
)

var logger = log.WithContext("pkg", "metrics")

const namespace = "gauntlet"

type promBackend struct {
	mu         sync.Mutex
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]prometheus.Histogram
}

func newPromBackend() *promBackend {
	return &promBackend{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]prometheus.Histogram),
	}
}

func (b *promBackend) counterVec(name string, labels []string) *prometheus.CounterVec {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name}, labels)
	if err := b.registry.Register(c); err != nil {
		logger.Warn("counter registration failed", "name", name, "err", err)
	}
	b.counters[name] = c
	return c
}

func (b *promBackend) gaugeVec(name string, labels []string) *prometheus.GaugeVec {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok := b.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name}, labels)
	if err := b.registry.Register(g); err != nil {
		logger.Warn("gauge registration failed", "name", name, "err", err)
	}
	b.gauges[name] = g
	return g
}

type promCounter struct{ c prometheus.Counter }

func (m promCounter) Add(v int64) { m.c.Add(float64(v)) }

type promCounterVec struct{ c *prometheus.CounterVec }

func (m promCounterVec) AddWithLabels(v int64, l map[string]string) {
	m.c.With(l).Add(float64(v))
}

type promGauge struct{ g prometheus.Gauge }

func (m promGauge) Set(v float64) { m.g.Set(v) }

type promGaugeVec struct{ g *prometheus.GaugeVec }

func (m promGaugeVec) SetWithLabels(v float64, l map[string]string) {
	m.g.With(l).Set(v)
}

type promHistogram struct{ h prometheus.Histogram }

func (m promHistogram) Observe(v int64) { m.h.Observe(float64(v)) }

func (b *promBackend) Counter(name string) CountMeter {
	return promCounter{b.counterVec(name, nil).WithLabelValues()}
}

func (b *promBackend) CounterVec(name string, labels []string) CountVecMeter {
	return promCounterVec{b.counterVec(name, labels)}
}

func (b *promBackend) Gauge(name string) GaugeMeter {
	return promGauge{b.gaugeVec(name, nil).WithLabelValues()}
}

func (b *promBackend) GaugeVec(name string, labels []string) GaugeVecMeter {
	return promGaugeVec{b.gaugeVec(name, labels)}
}

func (b *promBackend) Histogram(name string, buckets []int64) HistogramMeter {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.histograms[name]; ok {
		return promHistogram{h}
	}
	fb := make([]float64, len(buckets))
	for i, v := range buckets {
		fb[i] = float64(v)
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: name, Buckets: fb})
	if err := b.registry.Register(h); err != nil {
		logger.Warn("histogram registration failed", "name", name, "err", err)
	}
	b.histograms[name] = h
	return promHistogram{h}
}

func (b *promBackend) Handler() http.Handler {
	return promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{})
}
