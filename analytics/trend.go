// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package analytics

import (
	"math"
	"sort"
	"time"
)

// Trend directions.
const (
	TrendInsufficientData   = "insufficient_data"
	TrendStable             = "stable"
	TrendIncreasing         = "increasing"
	TrendStronglyIncreasing = "strongly_increasing"
	TrendDecreasing         = "decreasing"
	TrendStronglyDecreasing = "strongly_decreasing"
)

// minTrendSamples is the floor below which no direction is claimed.
const minTrendSamples = 4

// Trend describes how a metric moves over a window.
type Trend struct {
	Network   string
	Metric    string
	Direction string
	// Slope is change in metric units per sample.
	Slope float64
	// R2 is the goodness of the linear fit, 0 to 1.
	R2 float64
	// ChangePct compares the recent half's mean to the baseline half's, in
	// percent of the baseline.
	ChangePct float64
	Samples   int
}

// linearFit runs an ordinary least squares fit of values against their
// indices and reports slope and r squared.
func linearFit(values []float64) (slope, r2 float64) {
	n := float64(len(values))
	if n < 2 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for i, y := range values {
		fit := intercept + slope*float64(i)
		ssRes += (y - fit) * (y - fit)
		ssTot += (y - meanY) * (y - meanY)
	}
	if ssTot == 0 {
		// a flat series is a perfect fit
		return slope, 1
	}
	return slope, 1 - ssRes/ssTot
}

// splitChangePct compares the mean of the newer half against the older half.
func splitChangePct(values []float64) float64 {
	half := len(values) / 2
	if half == 0 {
		return 0
	}
	baseline := mean(values[:half])
	recent := mean(values[half:])
	if baseline == 0 {
		return 0
	}
	return (recent - baseline) / math.Abs(baseline) * 100
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// AnalyzeSeries classifies a series already in hand.
func AnalyzeSeries(s *Series) *Trend {
	t := &Trend{Network: s.Network, Metric: s.Metric, Samples: len(s.Points)}
	if len(s.Points) < minTrendSamples {
		t.Direction = TrendInsufficientData
		return t
	}
	values := s.Values()
	t.Slope, t.R2 = linearFit(values)
	t.ChangePct = splitChangePct(values)

	switch {
	case math.Abs(t.ChangePct) < 5:
		t.Direction = TrendStable
	case t.ChangePct >= 25:
		t.Direction = TrendStronglyIncreasing
	case t.ChangePct > 0:
		t.Direction = TrendIncreasing
	case t.ChangePct <= -25:
		t.Direction = TrendStronglyDecreasing
	default:
		t.Direction = TrendDecreasing
	}
	return t
}

// AnalyzeTrends classifies one network's metric over the window.
func (e *Engine) AnalyzeTrends(network, metric string, since, until time.Time) (*Trend, error) {
	s, err := e.TimeSeries(network, metric, since, until)
	if err != nil {
		return nil, err
	}
	return AnalyzeSeries(s), nil
}

// Outlier marks one sample outside the Tukey fences.
type Outlier struct {
	Index int
	Point Point
	// High is true above the upper fence, false below the lower.
	High bool
}

// DetectOutliers applies Tukey's fences (1.5 IQR beyond the quartiles) to a
// series. Fewer than four samples yield no outliers.
func DetectOutliers(s *Series) []Outlier {
	if len(s.Points) < 4 {
		return nil
	}
	sorted := s.Values()
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	var out []Outlier
	for i, p := range s.Points {
		if p.Value < lower {
			out = append(out, Outlier{Index: i, Point: p, High: false})
		} else if p.Value > upper {
			out = append(out, Outlier{Index: i, Point: p, High: true})
		}
	}
	return out
}

// quantile interpolates linearly on a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
