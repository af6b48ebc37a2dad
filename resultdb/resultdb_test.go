// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package resultdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/wei"
)

func openMem(t *testing.T) *Store {
	store, err := NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newRun(start time.Time) *TestRun {
	return &TestRun{
		RunID:     uuid.NewString(),
		StartTime: start,
		Mode:      "standard",
		Networks:  []string{"sepolia", "local"},
		TestTypes: []string{"evm", "defi"},
	}
}

func TestRunLifecycle(t *testing.T) {
	store := openMem(t)

	start := time.UnixMilli(1_700_000_000_000)
	run := newRun(start)
	require.NoError(t, store.InsertTestRun(run))

	got, err := store.GetTestRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.Networks, got.Networks)
	assert.Equal(t, run.TestTypes, got.TestTypes)
	assert.True(t, got.EndTime.IsZero(), "end time unset until the run settles")

	run.EndTime = start.Add(90 * time.Second)
	run.Totals = RunTotals{Total: 10, Successful: 9, Failed: 1, GasUsed: 210000, CostNative: 0.002}
	require.NoError(t, store.UpdateTestRun(run))

	got, err = store.GetTestRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Totals.Successful)
	assert.Equal(t, uint64(210000), got.Totals.GasUsed)
	assert.Equal(t, run.EndTime, got.EndTime)

	err = store.UpdateTestRun(&TestRun{RunID: "nope"})
	assert.Error(t, err, "settling an unknown run fails loudly")
}

func TestGetTestRunsFilters(t *testing.T) {
	store := openMem(t)

	base := time.UnixMilli(1_700_000_000_000)
	older := newRun(base)
	older.Mode = "stress"
	older.Networks = []string{"local"}
	newer := newRun(base.Add(time.Hour))
	require.NoError(t, store.InsertTestRun(older))
	require.NoError(t, store.InsertTestRun(newer))

	runs, err := store.GetTestRuns(RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.RunID, runs[0].RunID, "newest first")

	runs, err = store.GetTestRuns(RunFilter{Mode: "stress"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, older.RunID, runs[0].RunID)

	runs, err = store.GetTestRuns(RunFilter{Network: "sepolia"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, newer.RunID, runs[0].RunID)

	runs, err = store.GetTestRuns(RunFilter{Since: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, newer.RunID, runs[0].RunID)
}

func TestTestResultsRoundTrip(t *testing.T) {
	store := openMem(t)

	run := newRun(time.Now())
	require.NoError(t, store.InsertTestRun(run))

	results := []*TestResult{
		{
			Network:   "sepolia",
			TestType:  "evm",
			TestName:  "eth-transfer",
			Success:   true,
			StartTime: time.UnixMilli(1_700_000_000_000),
			EndTime:   time.UnixMilli(1_700_000_001_500),
			GasUsed:   21000,
			GasPrice:  wei.FromGwei(2),
			TxHash:    "0xabc",
		},
		{
			Network:       "sepolia",
			TestType:      "defi",
			TestName:      "swap",
			Success:       false,
			Error:         "execution reverted",
			ErrorCategory: errs.CategoryRevert,
		},
	}
	require.NoError(t, store.InsertTestResults(run.RunID, results))

	got, err := store.GetTestResults(run.RunID, ResultFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "eth-transfer", got[0].TestName)
	assert.Equal(t, wei.FromGwei(2), got[0].GasPrice)
	assert.Equal(t, 1500*time.Millisecond, got[0].Duration())

	failed, err := store.GetTestResults(run.RunID, ResultFilter{OnlyFail: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, errs.CategoryRevert, failed[0].ErrorCategory)

	_, err = store.GetTestResults("missing-run", ResultFilter{})
	assert.Error(t, err)
}

func TestNetworkResultsRoundTrip(t *testing.T) {
	store := openMem(t)

	run := newRun(time.Now())
	require.NoError(t, store.InsertTestRun(run))

	require.NoError(t, store.InsertNetworkResult(run.RunID, &NetworkResult{
		Network:         "sepolia",
		ChainID:         11155111,
		Totals:          RunTotals{Total: 5, Successful: 5},
		BlockStart:      100,
		BlockEnd:        112,
		AverageGasPrice: wei.FromGwei(3),
		Success:         true,
	}))

	got, err := store.GetNetworkResults(run.RunID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(11155111), got[0].ChainID)
	assert.Equal(t, uint64(112), got[0].BlockEnd)
	assert.Equal(t, wei.FromGwei(3), got[0].AverageGasPrice)
}

func TestMetricsAscendingWithFilters(t *testing.T) {
	store := openMem(t)

	run := newRun(time.Now())
	require.NoError(t, store.InsertTestRun(run))

	base := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, store.InsertMetrics(run.RunID, []*Metric{
		{Network: "sepolia", Name: "tps", Value: 12, Timestamp: base.Add(2 * time.Minute)},
		{Network: "sepolia", Name: "tps", Value: 10, Timestamp: base},
		{Network: "sepolia", Name: "block_time", Value: 12.1, Timestamp: base},
		{Network: "local", Name: "tps", Value: 900, Timestamp: base},
	}))

	got, err := store.GetMetrics(MetricFilter{Network: "sepolia", Name: "tps"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, float64(10), got[0].Value, "ascending time order")
	assert.Equal(t, float64(12), got[1].Value)

	got, err = store.GetMetrics(MetricFilter{Name: "tps", Since: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestNetworkStatusNewestFirst(t *testing.T) {
	store := openMem(t)

	base := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, store.InsertNetworkStatus(&NetworkStatus{
		Network: "sepolia", ChainID: 11155111, Online: true, Timestamp: base, BlockNumber: 100,
	}))
	require.NoError(t, store.InsertNetworkStatus(&NetworkStatus{
		Network: "sepolia", ChainID: 11155111, Online: false, Timestamp: base.Add(time.Minute),
		Error: "dial timeout",
	}))

	got, err := store.GetNetworkStatus("sepolia", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Online)
	assert.Equal(t, "dial timeout", got[0].Error)
}

func TestAlertsResolve(t *testing.T) {
	store := openMem(t)

	id, err := store.InsertAlert(&Alert{
		Kind: "regression", Severity: "moderate", Network: "sepolia",
		Message: "success_rate dropped",
	})
	require.NoError(t, err)

	open, err := store.GetAlerts("sepolia", true, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, store.ResolveAlert(id))
	open, err = store.GetAlerts("sepolia", true, 0)
	require.NoError(t, err)
	assert.Empty(t, open)

	assert.Error(t, store.ResolveAlert(9999))
}

func deployment(chainID uint64, name string) *Deployment {
	return &Deployment{
		DeploymentID: uuid.NewString(),
		Network:      "sepolia",
		ChainID:      chainID,
		Name:         name,
		Type:         "erc20",
		Address:      "0x00000000000000000000000000000000000000aa",
		GasUsed:      300000,
		GasPrice:     wei.FromGwei(2),
		ABI:          `[{"type":"function","name":"decimals"}]`,
	}
}

func TestSaveDeploymentSupersedes(t *testing.T) {
	store := openMem(t)

	first := deployment(11155111, "TestToken")
	require.NoError(t, store.SaveDeployment(first))
	assert.Equal(t, 1, first.Version)

	second := deployment(11155111, "TestToken")
	require.NoError(t, store.SaveDeployment(second))
	assert.Equal(t, 2, second.Version)

	active, err := store.GetActiveDeployment(11155111, "erc20", "TestToken")
	require.NoError(t, err)
	assert.Equal(t, second.DeploymentID, active.DeploymentID)

	old, err := store.GetDeployment(first.DeploymentID)
	require.NoError(t, err)
	assert.False(t, old.Active, "superseded row stays, inactive")

	all, err := store.GetDeploymentsByNetwork(11155111, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	abiJSON, err := store.GetDeploymentABI(second.DeploymentID)
	require.NoError(t, err)
	assert.Contains(t, abiJSON, "decimals")

	require.NoError(t, store.MarkDeploymentInactive(second.DeploymentID))
	_, err = store.GetActiveDeployment(11155111, "erc20", "TestToken")
	assert.ErrorIs(t, err, ErrDeploymentNotFound)
}

func TestHealthCheckUpdatesSummary(t *testing.T) {
	store := openMem(t)

	d := deployment(11155111, "TestToken")
	require.NoError(t, store.SaveDeployment(d))

	require.NoError(t, store.InsertHealthCheck(&HealthCheck{
		DeploymentID: d.DeploymentID,
		Status:       "degraded",
		ResponseTime: 200 * time.Millisecond,
		Error:        "slow view call",
	}))

	got, err := store.GetDeployment(d.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, "degraded", got.HealthStatus)
	assert.False(t, got.LastHealthCheck.IsZero())

	checks, err := store.GetHealthChecks(d.DeploymentID, 0)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, "degraded", checks[0].Status)
}

func TestHealthCheckUnknownDeploymentIsNoOp(t *testing.T) {
	store := openMem(t)

	require.NoError(t, store.InsertHealthCheck(&HealthCheck{
		DeploymentID: "gone",
		Status:       "healthy",
	}))
	st, err := store.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.HealthChecks)
}

func seedForPurge(t *testing.T, store *Store, start time.Time) *TestRun {
	t.Helper()
	run := newRun(start)
	require.NoError(t, store.InsertTestRun(run))
	require.NoError(t, store.InsertTestResults(run.RunID, []*TestResult{
		{Network: "sepolia", TestType: "evm", TestName: "transfer", Success: true},
	}))
	require.NoError(t, store.InsertMetrics(run.RunID, []*Metric{
		{Network: "sepolia", Name: "tps", Value: 10, Timestamp: start},
	}))
	return run
}

func TestPurgeRequiresConfirm(t *testing.T) {
	store := openMem(t)

	_, err := store.PurgeAll(false)
	assert.ErrorIs(t, err, ErrConfirmRequired)
	_, err = store.PurgeOlderThan(time.Hour, false)
	assert.ErrorIs(t, err, ErrConfirmRequired)
	_, err = store.PurgeByNetwork("sepolia", false)
	assert.ErrorIs(t, err, ErrConfirmRequired)
}

func TestPurgeAll(t *testing.T) {
	store := openMem(t)
	seedForPurge(t, store, time.Now())
	require.NoError(t, store.SaveDeployment(deployment(11155111, "TestToken")))

	rep, err := store.PurgeAll(true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.TestRuns)
	assert.Equal(t, int64(1), rep.Deployments)

	st, err := store.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.TestRuns)
	assert.Zero(t, st.TestResults)
	assert.Zero(t, st.Metrics)
	assert.Zero(t, st.Deployments)
}

func TestPurgeOlderThan(t *testing.T) {
	store := openMem(t)
	old := seedForPurge(t, store, time.Now().Add(-48*time.Hour))
	fresh := seedForPurge(t, store, time.Now())

	rep, err := store.PurgeOlderThan(24*time.Hour, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.TestRuns)

	_, err = store.GetTestRun(old.RunID)
	assert.Error(t, err)
	_, err = store.GetTestRun(fresh.RunID)
	assert.NoError(t, err)
}

func TestPurgeByNetworkRemovesOrphanedRuns(t *testing.T) {
	store := openMem(t)
	orphaned := seedForPurge(t, store, time.Now())
	spanning := seedForPurge(t, store, time.Now())
	require.NoError(t, store.InsertTestResults(spanning.RunID, []*TestResult{
		{Network: "local", TestType: "evm", TestName: "transfer", Success: true},
	}))
	require.NoError(t, store.SaveDeployment(deployment(11155111, "TestToken")))

	rep, err := store.PurgeByNetwork("sepolia", true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.TestResults)
	assert.Equal(t, int64(1), rep.Deployments)
	assert.Equal(t, int64(1), rep.TestRuns, "a run whose only network was purged goes with it")

	_, err = store.GetTestRun(orphaned.RunID)
	assert.Error(t, err)
	_, err = store.GetTestRun(spanning.RunID)
	assert.NoError(t, err, "runs spanning other networks survive")

	rows, err := store.GetTestResults(spanning.RunID, ResultFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "local", rows[0].Network)
}

func TestBackupAndStatsOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "results.db"))
	require.NoError(t, err)
	defer store.Close()

	seedForPurge(t, store, time.Now())

	dst := filepath.Join(dir, "backup", "results.db")
	require.NoError(t, store.Backup(dst))

	copied, err := New(dst)
	require.NoError(t, err)
	defer copied.Close()
	st, err := copied.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TestRuns)

	require.NoError(t, store.Optimize())
	require.NoError(t, store.Vacuum())
}
