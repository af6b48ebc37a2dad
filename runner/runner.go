// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package runner orchestrates test runs across networks: it builds the phase
// queue per network, executes phases through the retry manager, aggregates
// outcomes into the result store and emits progress on the event bus.
package runner

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/artifact"
	"github.com/evmgauntlet/gauntlet/bus"
	"github.com/evmgauntlet/gauntlet/co"
	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/gas"
	"github.com/evmgauntlet/gauntlet/log"
	"github.com/evmgauntlet/gauntlet/metrics"
	"github.com/evmgauntlet/gauntlet/netreg"
	"github.com/evmgauntlet/gauntlet/pool"
	"github.com/evmgauntlet/gauntlet/registry"
	"github.com/evmgauntlet/gauntlet/resultdb"
	"github.com/evmgauntlet/gauntlet/retry"
)

var logger = log.WithContext("pkg", "runner")

var metricTests = metrics.CounterVec("runner_tests_total", []string{"network", "type", "result"})

// ErrConfig marks option errors the CLI maps to its configuration exit code.
var ErrConfig = errors.New("runner: invalid configuration")

// Mode selects the orchestration style.
type Mode string

const (
	ModeStandard    Mode = "standard"
	ModeSequential  Mode = "sequential"
	ModeParallel    Mode = "parallel"
	ModeDiversified Mode = "diversified"
	ModeStress      Mode = "stress"
	ModeDeployment  Mode = "deployment"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeStandard, ModeSequential, ModeParallel, ModeDiversified, ModeStress, ModeDeployment:
		return m, nil
	default:
		return "", errors.Wrapf(ErrConfig, "unknown mode %q", s)
	}
}

// Test phase names, in execution order.
const (
	TestEVM      = "evm"
	TestDeFi     = "defi"
	TestLoad     = "load"
	TestFinality = "finality"
)

var phaseOrder = []string{TestEVM, TestDeFi, TestLoad, TestFinality}

// Options configure one run.
type Options struct {
	Networks          []string
	Tests             []string
	Mode              Mode
	Parallel          bool
	MaxConcurrent     int
	Timeout           time.Duration
	Verbose           bool
	RetryUntilSuccess bool
	ContractType      string
	PrivateKey        string

	// DeFiFloor is the success-rate floor of the defi phase. Zero means the
	// contract default of 0.9.
	DeFiFloor float64
	// GraceWindow is how long in-flight operations may finish after cancel.
	GraceWindow time.Duration
	// LoadTxCount is how many transactions the load phase fires per burst.
	LoadTxCount int
	// FinalityTxCount is how many transactions the finality phase measures.
	FinalityTxCount int
}

func (o *Options) normalize() error {
	if len(o.Networks) == 0 {
		return errors.Wrap(ErrConfig, "no networks selected")
	}
	if o.Mode == "" {
		o.Mode = ModeStandard
	} else if _, err := ParseMode(string(o.Mode)); err != nil {
		return err
	}
	if o.Mode == ModeParallel {
		o.Parallel = true
	}
	if o.Mode == ModeSequential {
		o.Parallel = false
	}
	if len(o.Tests) == 0 && o.Mode != ModeDeployment {
		o.Tests = []string{TestEVM}
	}
	for _, test := range o.Tests {
		switch test {
		case TestEVM, TestDeFi, TestLoad, TestFinality:
		default:
			return errors.Wrapf(ErrConfig, "unknown test %q", test)
		}
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 5
	}
	if o.DeFiFloor <= 0 {
		o.DeFiFloor = 0.9
	}
	if o.GraceWindow <= 0 {
		o.GraceWindow = 10 * time.Second
	}
	if o.LoadTxCount <= 0 {
		o.LoadTxCount = 10
	}
	if o.FinalityTxCount <= 0 {
		o.FinalityTxCount = 3
	}
	return nil
}

// orderedTests returns the selected tests in fixed phase order.
func (o *Options) orderedTests() []string {
	selected := make(map[string]bool, len(o.Tests))
	for _, t := range o.Tests {
		selected[t] = true
	}
	var out []string
	for _, name := range phaseOrder {
		if selected[name] {
			out = append(out, name)
		}
	}
	return out
}

// Runner wires the orchestration over its injected collaborators.
type Runner struct {
	networks  *netreg.Registry
	pool      *pool.Pool
	gas       *gas.Manager
	retry     *retry.Manager
	store     *resultdb.Store
	contracts *registry.Registry
	artifacts *artifact.Loader
	bus       *bus.Bus
}

// Deps are the collaborators a Runner needs. All are required except Bus.
type Deps struct {
	Networks  *netreg.Registry
	Pool      *pool.Pool
	Gas       *gas.Manager
	Retry     *retry.Manager
	Store     *resultdb.Store
	Contracts *registry.Registry
	Artifacts *artifact.Loader
	Bus       *bus.Bus
}

func New(deps Deps) *Runner {
	return &Runner{
		networks:  deps.Networks,
		pool:      deps.Pool,
		gas:       deps.Gas,
		retry:     deps.Retry,
		store:     deps.Store,
		contracts: deps.Contracts,
		artifacts: deps.Artifacts,
		bus:       deps.Bus,
	}
}

// Summary is the final rollup of one run.
type Summary struct {
	RunID      string
	Totals     resultdb.RunTotals
	PerNetwork map[string]*resultdb.NetworkResult
	// FloorMet is false when any network missed a phase floor or failed.
	FloorMet bool
	Duration time.Duration
}

// Run executes one TestRun over the selected networks. Cancelling ctx stops
// new phases; in-flight operations get the grace window to drain.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	specs, err := r.resolveNetworks(opts.Networks)
	if err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	run := &resultdb.TestRun{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
		Mode:      string(opts.Mode),
		Parallel:  opts.Parallel,
		Networks:  opts.Networks,
		TestTypes: opts.orderedTests(),
	}
	if opts.Mode == ModeDeployment {
		run.TestTypes = []string{"deployment"}
	}
	if cfg, err := json.Marshal(map[string]any{
		"maxConcurrent":     opts.MaxConcurrent,
		"retryUntilSuccess": opts.RetryUntilSuccess,
		"contractType":      opts.ContractType,
	}); err == nil {
		run.Config = string(cfg)
	}
	if err := r.store.InsertTestRun(run); err != nil {
		return nil, err
	}
	if r.bus != nil {
		r.bus.PublishTestRunStarted(bus.TestRunStarted{
			RunID:     run.RunID,
			Mode:      run.Mode,
			Networks:  run.Networks,
			TestTypes: run.TestTypes,
		})
	}
	logger.Info("run started", "run", run.RunID, "mode", run.Mode, "networks", len(specs))

	perNetwork := r.fanOut(ctx, run.RunID, specs, &opts)

	summary := &Summary{RunID: run.RunID, PerNetwork: perNetwork, FloorMet: true}
	for _, res := range perNetwork {
		summary.Totals.Total += res.Totals.Total
		summary.Totals.Successful += res.Totals.Successful
		summary.Totals.Failed += res.Totals.Failed
		summary.Totals.GasUsed += res.Totals.GasUsed
		summary.Totals.CostNative += res.Totals.CostNative
		summary.Totals.CostUSD += res.Totals.CostUSD
		if !res.Success {
			summary.FloorMet = false
		}
	}

	run.EndTime = time.Now()
	run.Totals = summary.Totals
	summary.Duration = run.EndTime.Sub(run.StartTime)
	if err := r.store.UpdateTestRun(run); err != nil {
		return nil, err
	}
	if r.bus != nil {
		per := make(map[string]bus.Totals, len(perNetwork))
		for id, res := range perNetwork {
			per[id] = bus.Totals{
				Tests:     res.Totals.Total,
				Successes: res.Totals.Successful,
				Failures:  res.Totals.Failed,
				GasUsed:   res.Totals.GasUsed,
			}
		}
		r.bus.PublishTestCompleted(bus.TestCompleted{
			RunID: run.RunID,
			Totals: bus.Totals{
				Tests:     summary.Totals.Total,
				Successes: summary.Totals.Successful,
				Failures:  summary.Totals.Failed,
				GasUsed:   summary.Totals.GasUsed,
			},
			PerNetwork: per,
		})
	}
	logger.Info("run finished", "run", run.RunID,
		"tests", summary.Totals.Total, "failed", summary.Totals.Failed,
		"floorMet", summary.FloorMet, "elapsed", summary.Duration)
	return summary, nil
}

func (r *Runner) resolveNetworks(ids []string) ([]*netreg.Spec, error) {
	specs := make([]*netreg.Spec, 0, len(ids))
	for _, id := range ids {
		spec, ok := r.networks.Get(id)
		if !ok {
			return nil, errors.Wrapf(ErrConfig, "network %q not configured", id)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// fanOut runs every network, in parallel or declaration order. One network's
// failure never cancels the others; sequential mode stops early only on an
// error marked critical.
func (r *Runner) fanOut(ctx context.Context, runID string, specs []*netreg.Spec, opts *Options) map[string]*resultdb.NetworkResult {
	perNetwork := make(map[string]*resultdb.NetworkResult, len(specs))

	if opts.Parallel {
		var mu sync.Mutex
		var goes co.Goes
		for _, spec := range specs {
			goes.Go(func() {
				res, _ := r.runNetwork(ctx, runID, spec, opts)
				mu.Lock()
				perNetwork[spec.ID] = res
				mu.Unlock()
			})
		}
		goes.Wait()
		return perNetwork
	}

	for _, spec := range specs {
		res, critical := r.runNetwork(ctx, runID, spec, opts)
		perNetwork[spec.ID] = res
		if critical {
			logger.Error("critical failure, aborting remaining networks",
				"network", spec.ID, "err", res.Error)
			break
		}
	}
	return perNetwork
}

func (r *Runner) runNetwork(ctx context.Context, runID string, spec *netreg.Spec, opts *Options) (*resultdb.NetworkResult, bool) {
	res := &resultdb.NetworkResult{Network: spec.ID, ChainID: spec.ChainID}
	if r.bus != nil {
		r.bus.PublishNetworkStarted(bus.NetworkStarted{RunID: runID, NetworkID: spec.ID})
	}

	defer func() {
		if err := r.store.InsertNetworkResult(runID, res); err != nil {
			logger.Error("network result not persisted", "network", spec.ID, "err", err)
		}
	}()

	prov, err := r.pool.Provider(ctx, spec)
	if err != nil {
		res.Error = err.Error()
		logger.Error("network unavailable", "network", spec.ID, "err", err)
		return res, errs.IsCritical(err)
	}
	defer r.pool.Release(prov)

	nc := &netCtx{runner: r, spec: spec, prov: prov, opts: opts, runID: runID}
	if opts.PrivateKey != "" {
		signer, err := r.pool.Signer(ctx, spec, opts.PrivateKey)
		if err != nil {
			res.Error = err.Error()
			return res, errs.IsCritical(err)
		}
		nc.signer = signer
	}

	if n, err := prov.Client().BlockNumber(ctx); err == nil {
		res.BlockStart = n
	}

	phases := r.phasesFor(opts)
	success := true
	for _, ph := range phases {
		if ctx.Err() != nil {
			logger.Warn("cancelled, skipping remaining phases",
				"network", spec.ID, "phase", ph.name())
			success = false
			break
		}
		outcome := r.runPhase(ctx, nc, ph)
		r.absorb(runID, spec.ID, res, outcome)
		if !outcome.floorMet {
			success = false
		}
	}
	res.Success = success && res.Error == ""

	if n, err := prov.Client().BlockNumber(context.WithoutCancel(ctx)); err == nil {
		res.BlockEnd = n
	}
	return res, false
}

// absorb folds a phase outcome into the network rollup and persists its rows.
func (r *Runner) absorb(runID, network string, res *resultdb.NetworkResult, outcome *phaseOutcome) {
	for _, tr := range outcome.results {
		res.Totals.Total++
		result := "fail"
		if tr.Success {
			res.Totals.Successful++
			result = "pass"
		} else {
			res.Totals.Failed++
		}
		res.Totals.GasUsed += tr.GasUsed
		res.Totals.CostNative += tr.CostNative
		res.Totals.CostUSD += tr.CostUSD
		metricTests.AddWithLabels(1, map[string]string{
			"network": network, "type": tr.TestType, "result": result,
		})
	}
	if outcome.err != nil && res.Error == "" {
		res.Error = outcome.err.Error()
	}

	if len(outcome.results) > 0 {
		if err := r.store.InsertTestResults(runID, outcome.results); err != nil {
			logger.Error("test results not persisted", "network", network, "err", err)
		}
	}
	if len(outcome.metrics) > 0 {
		if err := r.store.InsertMetrics(runID, outcome.metrics); err != nil {
			logger.Error("metrics not persisted", "network", network, "err", err)
		}
	}
}

func (r *Runner) phasesFor(opts *Options) []phase {
	if opts.Mode == ModeDeployment {
		return []phase{&deployPhase{contractType: opts.ContractType}}
	}
	var phases []phase
	for _, name := range opts.orderedTests() {
		switch name {
		case TestEVM:
			phases = append(phases, &evmPhase{})
		case TestDeFi:
			phases = append(phases, &defiPhase{})
		case TestLoad:
			phases = append(phases, &loadPhase{stress: opts.Mode == ModeStress})
		case TestFinality:
			phases = append(phases, &finalityPhase{})
		}
	}
	return phases
}

// maxOuterAttempts bounds the retry-until-success loop.
const maxOuterAttempts = 10

type phaseOutcome struct {
	name     string
	floorMet bool
	rate     float64
	err      error
	results  []*resultdb.TestResult
	metrics  []*resultdb.Metric
}

// runPhase executes one phase through the retry manager, then, when asked,
// reruns only its failing sub-tests until the floor is met or the outer
// attempt budget runs out. Every attempt's rows are kept.
func (r *Runner) runPhase(ctx context.Context, nc *netCtx, ph phase) *phaseOutcome {
	outcome := &phaseOutcome{name: ph.name()}
	start := time.Now()
	floor := ph.floor(nc.opts)

	var attempt []*resultdb.TestResult
	err := r.retry.Execute(ctx, retry.Opts{ChainID: nc.spec.ChainID}, func(ctx context.Context) error {
		var err error
		attempt, err = ph.run(ctx, nc, nil)
		return err
	})
	if err != nil {
		outcome.err = errors.Wrapf(err, "phase %s", ph.name())
		logger.Error("phase failed", "network", nc.spec.ID, "phase", ph.name(), "err", err)
		return outcome
	}
	outcome.results = attempt

	// latest outcome per sub-test decides the rate
	latest := make(map[string]bool)
	for _, tr := range attempt {
		latest[tr.TestName] = tr.Success
	}
	outcome.rate = passRate(latest)

	if nc.opts.RetryUntilSuccess {
		for tries := 1; outcome.rate < floor && tries < maxOuterAttempts; tries++ {
			failed := make(map[string]bool)
			for name, ok := range latest {
				if !ok {
					failed[name] = true
				}
			}
			if len(failed) == 0 || ctx.Err() != nil {
				break
			}
			logger.Info("rerunning failed sub-tests",
				"network", nc.spec.ID, "phase", ph.name(),
				"failed", len(failed), "attempt", tries+1)
			rerun, err := ph.run(ctx, nc, failed)
			if err != nil {
				outcome.err = errors.Wrapf(err, "phase %s rerun", ph.name())
				break
			}
			outcome.results = append(outcome.results, rerun...)
			for _, tr := range rerun {
				latest[tr.TestName] = tr.Success
			}
			outcome.rate = passRate(latest)
		}
	}

	elapsed := time.Since(start)
	// zero sub-tests with no error means everything was skipped, not a miss
	outcome.floorMet = outcome.err == nil && (len(latest) == 0 || outcome.rate >= floor)
	if len(latest) > 0 {
		outcome.metrics = append(outcome.metrics,
			&resultdb.Metric{Network: nc.spec.ID, Name: "success_rate", Value: outcome.rate * 100, Unit: "percent", TestType: ph.name()},
			&resultdb.Metric{Network: nc.spec.ID, Name: "response_time", Value: float64(elapsed.Milliseconds()), Unit: "ms", TestType: ph.name()},
		)
	}
	var gasTotal uint64
	for _, tr := range outcome.results {
		gasTotal += tr.GasUsed
	}
	if gasTotal > 0 {
		outcome.metrics = append(outcome.metrics,
			&resultdb.Metric{Network: nc.spec.ID, Name: "gas_used", Value: float64(gasTotal), TestType: ph.name()})
	}

	logger.Info("phase done", "network", nc.spec.ID, "phase", ph.name(),
		"rate", outcome.rate, "floorMet", outcome.floorMet, "elapsed", elapsed)
	return outcome
}

func passRate(latest map[string]bool) float64 {
	if len(latest) == 0 {
		return 0
	}
	passed := 0
	for _, ok := range latest {
		if ok {
			passed++
		}
	}
	return float64(passed) / float64(len(latest))
}

// FailedTests lists the distinct failing sub-tests of a summary's run, for
// the CLI's per-network report.
func (r *Runner) FailedTests(runID, network string) ([]string, error) {
	rows, err := r.store.GetTestResults(runID, resultdb.ResultFilter{Network: network, OnlyFail: true})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, row := range rows {
		if !seen[row.TestName] {
			seen[row.TestName] = true
			names = append(names, row.TestName)
		}
	}
	sort.Strings(names)
	return names, nil
}
