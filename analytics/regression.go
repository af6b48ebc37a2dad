// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/evmgauntlet/gauntlet/bus"
	"github.com/evmgauntlet/gauntlet/metrics"
	"github.com/evmgauntlet/gauntlet/resultdb"
)

var metricRegressions = metrics.CounterVec("analytics_regressions_detected", []string{"network", "metric"})

// Severity grades.
const (
	SeverityMinor    = "minor"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
)

// regressionThreshold is the percent change at which a metric counts as
// regressed, signed in the "worse" direction.
type regressionThreshold struct {
	pct float64
	// higherIsWorse flips the comparison for latency-like metrics.
	higherIsWorse bool
}

// Watched metrics and their tolerated drift.
var regressionThresholds = map[string]regressionThreshold{
	"success_rate":  {pct: 5, higherIsWorse: false},
	"response_time": {pct: 20, higherIsWorse: true},
	"gas_used":      {pct: 15, higherIsWorse: true},
	"tps":           {pct: 10, higherIsWorse: false},
	"block_time":    {pct: 25, higherIsWorse: true},
}

// minConfidence gates regressions on the linear fit quality so one noisy
// sample does not page anyone.
const minConfidence = 0.3

// Regression is one confirmed metric degradation.
type Regression struct {
	Network    string
	Metric     string
	Severity   string
	ChangePct  float64
	Confidence float64
	Baseline   float64
	Recent     float64
	Samples    int
}

// DetectRegressions compares each watched metric's recent half against its
// baseline half over the window. A regression needs the change to exceed the
// metric's threshold in the worse direction and the trend fit to clear the
// confidence gate. Findings are persisted as alerts and published on the bus.
func (e *Engine) DetectRegressions(network string, since, until time.Time) ([]*Regression, error) {
	var found []*Regression
	for _, metric := range watchedMetrics() {
		threshold := regressionThresholds[metric]

		s, err := e.TimeSeries(network, metric, since, until)
		if err != nil {
			return nil, err
		}
		if len(s.Points) < minTrendSamples {
			continue
		}
		values := s.Values()
		_, r2 := linearFit(values)
		change := splitChangePct(values)

		worse := change > threshold.pct
		if !threshold.higherIsWorse {
			worse = change < -threshold.pct
		}
		if !worse || r2 < minConfidence {
			continue
		}

		half := len(values) / 2
		reg := &Regression{
			Network:    network,
			Metric:     metric,
			Severity:   severityFor(math.Abs(change), threshold.pct),
			ChangePct:  change,
			Confidence: r2,
			Baseline:   mean(values[:half]),
			Recent:     mean(values[half:]),
			Samples:    len(values),
		}
		found = append(found, reg)

		if err := e.report(reg); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// severityFor grades by how far past the threshold the change landed:
// under 1.2x is minor, under 1.6x moderate, beyond that severe.
func severityFor(absChange, threshold float64) string {
	switch ratio := absChange / threshold; {
	case ratio < 1.2:
		return SeverityMinor
	case ratio < 1.6:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}

func (e *Engine) report(reg *Regression) error {
	logger.Warn("regression detected",
		"network", reg.Network, "metric", reg.Metric, "severity", reg.Severity,
		"change", fmt.Sprintf("%.1f%%", reg.ChangePct), "confidence", reg.Confidence)
	metricRegressions.AddWithLabels(1, map[string]string{"network": reg.Network, "metric": reg.Metric})

	details, _ := json.Marshal(reg)
	if _, err := e.store.InsertAlert(&resultdb.Alert{
		Kind:     "regression",
		Severity: reg.Severity,
		Network:  reg.Network,
		Message: fmt.Sprintf("%s regressed %.1f%% (baseline %.2f, recent %.2f)",
			reg.Metric, reg.ChangePct, reg.Baseline, reg.Recent),
		Details: string(details),
	}); err != nil {
		return err
	}

	if e.bus != nil {
		e.bus.PublishRegressionDetected(bus.RegressionDetected{
			NetworkID:        reg.Network,
			MetricName:       reg.Metric,
			Severity:         reg.Severity,
			PercentageChange: reg.ChangePct,
			Confidence:       reg.Confidence,
		})
		e.bus.PublishAlertTriggered(bus.AlertTriggered{
			Kind:      "regression",
			Severity:  reg.Severity,
			NetworkID: reg.Network,
			Message: fmt.Sprintf("%s regressed %.1f%% (baseline %.2f, recent %.2f)",
				reg.Metric, reg.ChangePct, reg.Baseline, reg.Recent),
			Details: map[string]any{
				"metric":     reg.Metric,
				"changePct":  reg.ChangePct,
				"confidence": reg.Confidence,
				"samples":    reg.Samples,
			},
		})
	}
	return nil
}

func watchedMetrics() []string {
	names := make([]string, 0, len(regressionThresholds))
	for name := range regressionThresholds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Comparison ranks networks on one metric.
type Comparison struct {
	Network string
	Avg     float64
	Samples int
	Rank    int
}

// Metrics where a smaller average wins the comparison.
var lowerIsBetter = map[string]bool{
	"response_time": true,
	"block_time":    true,
	"gas_used":      true,
}

// CompareNetworks averages one metric per network over the window and ranks
// them, best first. Networks without samples are left out.
func (e *Engine) CompareNetworks(networks []string, metric string, since, until time.Time) ([]*Comparison, error) {
	var out []*Comparison
	for _, network := range networks {
		s, err := e.TimeSeries(network, metric, since, until)
		if err != nil {
			return nil, err
		}
		if len(s.Points) == 0 {
			continue
		}
		out = append(out, &Comparison{
			Network: network,
			Avg:     mean(s.Values()),
			Samples: len(s.Points),
		})
	}

	asc := lowerIsBetter[metric]
	sort.SliceStable(out, func(i, j int) bool {
		if asc {
			return out[i].Avg < out[j].Avg
		}
		return out[i].Avg > out[j].Avg
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}
