// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package analytics

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmgauntlet/gauntlet/bus"
	"github.com/evmgauntlet/gauntlet/resultdb"
)

func newEngine(t *testing.T) (*Engine, *resultdb.Store, *bus.Bus, string) {
	store, err := resultdb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := bus.New()
	t.Cleanup(b.Close)

	runID := uuid.NewString()
	require.NoError(t, store.InsertTestRun(&resultdb.TestRun{
		RunID:     runID,
		StartTime: time.Now(),
		Mode:      "standard",
		Networks:  []string{"sepolia", "local"},
		TestTypes: []string{"evm"},
	}))
	return New(store, b), store, b, runID
}

func seedSeries(t *testing.T, store *resultdb.Store, runID, network, metric string, base time.Time, values []float64) {
	t.Helper()
	samples := make([]*resultdb.Metric, len(values))
	for i, v := range values {
		samples[i] = &resultdb.Metric{
			Network:   network,
			Name:      metric,
			Value:     v,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	require.NoError(t, store.InsertMetrics(runID, samples))
}

func TestTimeSeriesAscending(t *testing.T) {
	engine, store, _, runID := newEngine(t)
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	seedSeries(t, store, runID, "sepolia", "tps", base, []float64{10, 12, 11})

	s, err := engine.TimeSeries("sepolia", "tps", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, s.Points, 3)
	assert.True(t, s.Points[0].Time.Before(s.Points[1].Time))
	assert.Equal(t, []float64{10, 12, 11}, s.Values())
}

func TestAggregateBuckets(t *testing.T) {
	s := &Series{Network: "sepolia", Metric: "tps"}
	base := time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC) // a Wednesday
	s.Points = []Point{
		{Time: base, Value: 10},
		{Time: base.Add(20 * time.Minute), Value: 20},
		{Time: base.Add(2 * time.Hour), Value: 40},
	}

	hourly, err := Aggregate(s, BucketHour)
	require.NoError(t, err)
	require.Len(t, hourly, 2)
	assert.Equal(t, 15.0, hourly[0].Avg)
	assert.Equal(t, 10.0, hourly[0].Min)
	assert.Equal(t, 20.0, hourly[0].Max)
	assert.Equal(t, 2, hourly[0].Count)
	assert.Equal(t, 40.0, hourly[1].Avg)

	daily, err := Aggregate(s, BucketDay)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, 3, daily[0].Count)

	weekly, err := Aggregate(s, BucketWeek)
	require.NoError(t, err)
	require.Len(t, weekly, 1)
	assert.Equal(t, time.Monday, weekly[0].Start.Weekday())

	monthly, err := Aggregate(s, BucketMonth)
	require.NoError(t, err)
	assert.Equal(t, 1, monthly[0].Start.Day())

	_, err = Aggregate(s, Bucket("fortnight"))
	assert.Error(t, err)
}

func TestLinearFit(t *testing.T) {
	slope, r2 := linearFit([]float64{1, 2, 3, 4})
	assert.InDelta(t, 1.0, slope, 1e-9)
	assert.InDelta(t, 1.0, r2, 1e-9)

	slope, r2 = linearFit([]float64{5, 5, 5, 5})
	assert.Zero(t, slope)
	assert.Equal(t, 1.0, r2, "a flat series is a perfect fit")
}

func TestAnalyzeSeriesDirections(t *testing.T) {
	mkSeries := func(values []float64) *Series {
		s := &Series{Network: "sepolia", Metric: "tps"}
		for i, v := range values {
			s.Points = append(s.Points, Point{Time: time.Unix(int64(i*60), 0), Value: v})
		}
		return s
	}

	assert.Equal(t, TrendInsufficientData, AnalyzeSeries(mkSeries([]float64{1, 2, 3})).Direction)
	assert.Equal(t, TrendStable, AnalyzeSeries(mkSeries([]float64{100, 101, 100, 102})).Direction)
	assert.Equal(t, TrendStronglyIncreasing, AnalyzeSeries(mkSeries([]float64{10, 10, 20, 20})).Direction)
	assert.Equal(t, TrendIncreasing, AnalyzeSeries(mkSeries([]float64{100, 100, 110, 110})).Direction)
	assert.Equal(t, TrendStronglyDecreasing, AnalyzeSeries(mkSeries([]float64{20, 20, 10, 10})).Direction)
	assert.Equal(t, TrendDecreasing, AnalyzeSeries(mkSeries([]float64{100, 100, 90, 90})).Direction)

	trend := AnalyzeSeries(mkSeries([]float64{10, 10, 20, 20}))
	assert.InDelta(t, 100, trend.ChangePct, 1e-9)
}

func TestDetectOutliersTukey(t *testing.T) {
	s := &Series{Network: "sepolia", Metric: "response_time"}
	for i, v := range []float64{10, 11, 10, 12, 11, 10, 100} {
		s.Points = append(s.Points, Point{Time: time.Unix(int64(i), 0), Value: v})
	}

	outliers := DetectOutliers(s)
	require.Len(t, outliers, 1)
	assert.Equal(t, 6, outliers[0].Index)
	assert.True(t, outliers[0].High)

	assert.Nil(t, DetectOutliers(&Series{Points: s.Points[:3]}), "too few samples")
}

func TestDetectRegressionsSuccessRateDrop(t *testing.T) {
	engine, store, b, runID := newEngine(t)

	events := make(chan bus.RegressionDetected, 1)
	sub := b.SubscribeRegressionDetected(events)
	defer sub.Unsubscribe()
	alertEvents := make(chan bus.AlertTriggered, 1)
	alertSub := b.SubscribeAlertTriggered(alertEvents)
	defer alertSub.Unsubscribe()

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	seedSeries(t, store, runID, "sepolia", "success_rate", base,
		[]float64{100, 100, 100, 100, 80, 80, 80, 80})

	found, err := engine.DetectRegressions("sepolia", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	reg := found[0]
	assert.Equal(t, "success_rate", reg.Metric)
	assert.InDelta(t, -20, reg.ChangePct, 1e-9)
	assert.Equal(t, SeveritySevere, reg.Severity)
	assert.GreaterOrEqual(t, reg.Confidence, minConfidence)

	ev := <-events
	assert.Equal(t, "sepolia", ev.NetworkID)
	assert.Equal(t, "success_rate", ev.MetricName)

	alertEv := <-alertEvents
	assert.Equal(t, "regression", alertEv.Kind)
	assert.Equal(t, "sepolia", alertEv.NetworkID)
	assert.Equal(t, reg.Severity, alertEv.Severity)
	assert.Equal(t, "success_rate", alertEv.Details["metric"])

	alerts, err := store.GetAlerts("sepolia", true, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "regression", alerts[0].Kind)
}

func TestDetectRegressionsIgnoresImprovementAndNoise(t *testing.T) {
	engine, store, _, runID := newEngine(t)
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	// response_time improving is not a regression even though it moves a lot
	seedSeries(t, store, runID, "sepolia", "response_time", base,
		[]float64{200, 200, 200, 200, 100, 100, 100, 100})
	// tps oscillating wildly fails the confidence gate
	seedSeries(t, store, runID, "sepolia", "tps", base,
		[]float64{100, 10, 100, 10, 100, 10, 50, 11})

	found, err := engine.DetectRegressions("sepolia", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSeverityGrading(t *testing.T) {
	assert.Equal(t, SeverityMinor, severityFor(5.5, 5))
	assert.Equal(t, SeverityModerate, severityFor(7, 5))
	assert.Equal(t, SeveritySevere, severityFor(20, 5))
	// 25% extra gas against the 15% tolerance is a severe regression
	assert.Equal(t, SeveritySevere, severityFor(25, 15))
}

func TestCompareNetworks(t *testing.T) {
	engine, store, _, runID := newEngine(t)
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	seedSeries(t, store, runID, "sepolia", "block_time", base, []float64{12, 12, 12, 12})
	seedSeries(t, store, runID, "local", "block_time", base, []float64{1, 1, 1, 1})

	ranked, err := engine.CompareNetworks([]string{"sepolia", "local", "ghost"}, "block_time", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, ranked, 2, "networks without samples are skipped")
	assert.Equal(t, "local", ranked[0].Network, "lower block time ranks first")
	assert.Equal(t, 1, ranked[0].Rank)

	seedSeries(t, store, runID, "sepolia", "tps", base, []float64{50, 50, 50, 50})
	seedSeries(t, store, runID, "local", "tps", base, []float64{900, 900, 900, 900})
	ranked, err = engine.CompareNetworks([]string{"sepolia", "local"}, "tps", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "local", ranked[0].Network, "higher throughput ranks first")
}
