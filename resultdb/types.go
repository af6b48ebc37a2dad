// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package resultdb

import (
	"time"

	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/wei"
)

// TestRun is one orchestrated run across one or more networks.
type TestRun struct {
	RunID     string
	StartTime time.Time
	EndTime   time.Time
	Mode      string
	Parallel  bool
	Networks  []string
	TestTypes []string
	Totals    RunTotals
	Config    string
}

// RunTotals aggregates outcome counters across a run or one network of it.
type RunTotals struct {
	Total      int
	Successful int
	Failed     int
	GasUsed    uint64
	CostNative float64
	CostUSD    float64
}

// NetworkResult is the per-network rollup of a run.
type NetworkResult struct {
	Network         string
	ChainID         uint64
	Totals          RunTotals
	BlockStart      uint64
	BlockEnd        uint64
	AverageGasPrice wei.Amount
	Success         bool
	Error           string
}

// TestResult is a single test execution on a single network.
type TestResult struct {
	Network       string
	TestType      string
	TestName      string
	Success       bool
	StartTime     time.Time
	EndTime       time.Time
	GasUsed       uint64
	GasPrice      wei.Amount
	TxHash        string
	BlockNumber   uint64
	Error         string
	ErrorCategory errs.Category
	CostNative    float64
	CostUSD       float64
	Metadata      string
}

// Duration is derived, not stored independently of the timestamps.
func (r *TestResult) Duration() time.Duration {
	if r.EndTime.IsZero() || r.StartTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Metric is one sample of a named performance series.
type Metric struct {
	Network   string
	Name      string
	Value     float64
	Unit      string
	Timestamp time.Time
	TestType  string
	Extra     string
}

// NetworkStatus is a point-in-time probe of a network.
type NetworkStatus struct {
	Network      string
	ChainID      uint64
	BlockNumber  uint64
	GasPrice     wei.Amount
	ResponseTime time.Duration
	Online       bool
	Timestamp    time.Time
	RPCURL       string
	Error        string
}

// Alert is a persisted operator notification.
type Alert struct {
	ID          int64
	Kind        string
	Severity    string
	Network     string
	TestType    string
	Message     string
	Details     string
	Resolved    bool
	ResolvedAt  time.Time
	TriggeredAt time.Time
}

// Deployment records a contract instance on one network. At most one
// deployment per (chainID, type, name) is active; superseded rows stay for
// history with active=false.
type Deployment struct {
	DeploymentID    string
	Network         string
	ChainID         uint64
	Name            string
	Type            string
	Address         string
	TxHash          string
	BlockNumber     uint64
	GasUsed         uint64
	GasPrice        wei.Amount
	DeployedAt      time.Time
	Deployer        string
	ConstructorArgs string
	ABI             string
	BytecodeHash    string
	Version         int
	Active          bool
	Verified        bool
	HealthStatus    string
	LastHealthCheck time.Time
	Metadata        string
}

// HealthCheck is one probe of a deployed contract.
type HealthCheck struct {
	DeploymentID string
	CheckTime    time.Time
	Status       string
	ResponseTime time.Duration
	GasPrice     wei.Amount
	Error        string
	Checks       string
}

// Stats summarizes the store for the status surface.
type Stats struct {
	Path         string
	SizeBytes    int64
	TestRuns     int64
	TestResults  int64
	Metrics      int64
	StatusRows   int64
	Alerts       int64
	Deployments  int64
	HealthChecks int64
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
