// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package runner

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/evmgauntlet/gauntlet/co"
	"github.com/evmgauntlet/gauntlet/resultdb"
)

// Stress ramp bounds. The ramp doubles the target rate per wave until the
// wave success rate drops below the phase floor or maxTPS is reached.
const (
	stressStartTPS = 2
	stressMaxTPS   = 32
	stressWaves    = 5
)

type loadPhase struct {
	stress bool
}

func (p *loadPhase) name() string { return TestLoad }

func (p *loadPhase) floor(*Options) float64 { return 0.8 }

// run fires bursts of transactions through a bounded worker pool. With an
// active SimpleStorage deployment each transaction is a store(uint256) call;
// without one it degrades to one-wei self transfers. Stress mode ramps the
// target rate wave by wave and records the peak sustained TPS.
func (p *loadPhase) run(ctx context.Context, nc *netCtx, only map[string]bool) ([]*resultdb.TestResult, error) {
	target, haveContract := nc.resolveContract("load", "SimpleStorage", "SIMPLE_STORAGE")
	if !haveContract {
		logger.Warn("no storage contract, load phase falls back to transfers", "network", nc.spec.ID)
	}

	if p.stress {
		return p.runStress(ctx, nc, target, haveContract, only)
	}

	rows, tps := p.burst(ctx, nc, target, haveContract, only, "load-tx", nc.opts.LoadTxCount, 0)
	p.recordTPS(nc, "tps", tps)
	return rows, nil
}

// burst submits count transactions, at most opts.MaxConcurrent in flight.
// A non-zero targetTPS spaces submissions by an interval derived from the
// lower of the target rate and the worker pool size. Returns the rows and
// the achieved confirmed-transactions-per-second.
func (p *loadPhase) burst(ctx context.Context, nc *netCtx, target common.Address, haveContract bool, only map[string]bool, prefix string, count, targetTPS int) ([]*resultdb.TestResult, float64) {
	var interval time.Duration
	if targetTPS > 0 {
		rate := min(targetTPS, nc.opts.MaxConcurrent)
		interval = time.Second / time.Duration(rate)
	}

	var mu sync.Mutex
	var rows []*resultdb.TestResult
	workers := co.NewPool(nc.opts.MaxConcurrent)
	start := time.Now()

	for i := 0; i < count; i++ {
		testName := fmt.Sprintf("%s-%d", prefix, i)
		if only != nil && !only[testName] {
			continue
		}
		seq := int64(i)
		if err := workers.Submit(ctx, func() {
			row := p.oneTx(ctx, nc, target, haveContract, testName, seq)
			mu.Lock()
			rows = append(rows, row)
			mu.Unlock()
		}); err != nil {
			break
		}
		if interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
	}
	workers.Wait()

	elapsed := time.Since(start).Seconds()
	confirmed := 0
	for _, row := range rows {
		if row.Success {
			confirmed++
		}
	}
	var tps float64
	if elapsed > 0 {
		tps = float64(confirmed) / elapsed
	}
	return rows, tps
}

func (p *loadPhase) oneTx(ctx context.Context, nc *netCtx, target common.Address, haveContract bool, testName string, seq int64) *resultdb.TestResult {
	start := time.Now()
	var out *txOutcome
	if haveContract {
		data := packCall("store(uint256)", big.NewInt(seq).Bytes())
		out = nc.sendAndConfirm(ctx, &target, big.NewInt(0), data, false)
	} else {
		self := nc.sender()
		out = nc.sendAndConfirm(ctx, &self, big.NewInt(1), nil, false)
	}
	return nc.result(TestLoad, testName, start, out)
}

// runStress ramps the target TPS, doubling each wave. The ramp stops early
// when a wave's success rate misses the phase floor; the last sustained rate
// is recorded as peak.
func (p *loadPhase) runStress(ctx context.Context, nc *netCtx, target common.Address, haveContract bool, only map[string]bool) ([]*resultdb.TestResult, error) {
	var rows []*resultdb.TestResult
	var peak float64

	targetTPS := stressStartTPS
	for wave := 0; wave < stressWaves && ctx.Err() == nil; wave++ {
		prefix := fmt.Sprintf("stress-w%d", wave)
		waveRows, tps := p.burst(ctx, nc, target, haveContract, only, prefix, nc.opts.LoadTxCount, targetTPS)
		rows = append(rows, waveRows...)

		latest := make(map[string]bool, len(waveRows))
		for _, row := range waveRows {
			latest[row.TestName] = row.Success
		}
		rate := passRate(latest)
		logger.Info("stress wave done", "network", nc.spec.ID,
			"wave", wave, "targetTPS", targetTPS, "tps", tps, "rate", rate)

		if tps > peak {
			peak = tps
		}
		if len(waveRows) > 0 && rate < p.floor(nc.opts) {
			break
		}
		if targetTPS >= stressMaxTPS {
			break
		}
		targetTPS = min(targetTPS*2, stressMaxTPS)
	}

	p.recordTPS(nc, "tps", peak)
	return rows, nil
}

func (p *loadPhase) recordTPS(nc *netCtx, name string, tps float64) {
	if tps <= 0 {
		return
	}
	metric := &resultdb.Metric{Network: nc.spec.ID, Name: name, Value: tps, Unit: "tx/s", TestType: TestLoad}
	if err := nc.runner.store.InsertMetrics(nc.runID, []*resultdb.Metric{metric}); err != nil {
		logger.Warn("tps metric not persisted", "network", nc.spec.ID, "err", err)
	}
}
