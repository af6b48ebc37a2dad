// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package metrics

import "net/http"

type noopBackend struct{}

type noopMeter struct{}

func (noopMeter) Add(int64)                               {}
func (noopMeter) AddWithLabels(int64, map[string]string)  {}
func (noopMeter) Set(float64)                             {}
func (noopMeter) SetWithLabels(float64, map[string]string) {}
func (noopMeter) Observe(int64)                           {}

func (noopBackend) Counter(string) CountMeter                     { return noopMeter{} }
func (noopBackend) CounterVec(string, []string) CountVecMeter     { return noopMeter{} }
func (noopBackend) Gauge(string) GaugeMeter                       { return noopMeter{} }
func (noopBackend) GaugeVec(string, []string) GaugeVecMeter       { return noopMeter{} }
func (noopBackend) Histogram(string, []int64) HistogramMeter      { return noopMeter{} }
func (noopBackend) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	})
}
