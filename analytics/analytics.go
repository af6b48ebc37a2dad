// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package analytics turns stored performance metrics into time series,
// trends, cross-network comparisons and regression alerts.
package analytics

import (
	"time"

	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/bus"
	"github.com/evmgauntlet/gauntlet/log"
	"github.com/evmgauntlet/gauntlet/resultdb"
)

var logger = log.WithContext("pkg", "analytics")

// Engine reads the result store and publishes findings on the event bus.
type Engine struct {
	store *resultdb.Store
	bus   *bus.Bus
}

func New(store *resultdb.Store, b *bus.Bus) *Engine {
	return &Engine{store: store, bus: b}
}

// Point is one sample of a series.
type Point struct {
	Time  time.Time
	Value float64
}

// Series is a named metric of one network in ascending time order.
type Series struct {
	Network string
	Metric  string
	Points  []Point
}

// Values strips the timestamps.
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// TimeSeries loads one network's metric between since and until (zero means
// unbounded), ascending.
func (e *Engine) TimeSeries(network, metric string, since, until time.Time) (*Series, error) {
	samples, err := e.store.GetMetrics(resultdb.MetricFilter{
		Network: network,
		Name:    metric,
		Since:   since,
		Until:   until,
	})
	if err != nil {
		return nil, err
	}
	s := &Series{Network: network, Metric: metric, Points: make([]Point, len(samples))}
	for i, m := range samples {
		s.Points[i] = Point{Time: m.Timestamp, Value: m.Value}
	}
	return s, nil
}

// Bucket is an aggregation granularity.
type Bucket string

const (
	BucketMinute Bucket = "minute"
	BucketHour   Bucket = "hour"
	BucketDay    Bucket = "day"
	BucketWeek   Bucket = "week"
	BucketMonth  Bucket = "month"
)

// AggregatedPoint summarizes one bucket.
type AggregatedPoint struct {
	Start time.Time
	Avg   float64
	Min   float64
	Max   float64
	Count int
}

// Aggregate folds a series into buckets, ascending by bucket start. Empty
// buckets are omitted.
func Aggregate(s *Series, bucket Bucket) ([]AggregatedPoint, error) {
	var out []AggregatedPoint
	for _, p := range s.Points {
		start, err := bucketStart(p.Time, bucket)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 || !out[len(out)-1].Start.Equal(start) {
			out = append(out, AggregatedPoint{Start: start, Min: p.Value, Max: p.Value})
		}
		agg := &out[len(out)-1]
		if p.Value < agg.Min {
			agg.Min = p.Value
		}
		if p.Value > agg.Max {
			agg.Max = p.Value
		}
		// Avg holds the running sum until the bucket closes
		agg.Avg += p.Value
		agg.Count++
	}
	for i := range out {
		out[i].Avg /= float64(out[i].Count)
	}
	return out, nil
}

// Aggregated loads and buckets in one step.
func (e *Engine) Aggregated(network, metric string, since, until time.Time, bucket Bucket) ([]AggregatedPoint, error) {
	s, err := e.TimeSeries(network, metric, since, until)
	if err != nil {
		return nil, err
	}
	return Aggregate(s, bucket)
}

func bucketStart(t time.Time, bucket Bucket) (time.Time, error) {
	t = t.UTC()
	switch bucket {
	case BucketMinute:
		return t.Truncate(time.Minute), nil
	case BucketHour:
		return t.Truncate(time.Hour), nil
	case BucketDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case BucketWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// weeks start on Monday
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset), nil
	case BucketMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, errors.Errorf("analytics: unknown bucket %q", bucket)
	}
}
