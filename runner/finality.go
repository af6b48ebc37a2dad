// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package runner

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/resultdb"
)

const defaultFinalityBlocks = 3

type finalityPhase struct{}

func (p *finalityPhase) name() string { return TestFinality }

func (p *finalityPhase) floor(*Options) float64 { return 1.0 }

func (nc *netCtx) finalityBlocks() uint64 {
	if nc.spec.FinalityBlocks > 0 {
		return nc.spec.FinalityBlocks
	}
	return defaultFinalityBlocks
}

func (nc *netCtx) confirmationTimeout() time.Duration {
	return orDefault(nc.spec.Timeouts.Confirmation, 3*time.Minute)
}

// run measures, for a handful of sequential transactions, the latency from
// submission to inclusion and from inclusion to the network's finality depth.
func (p *finalityPhase) run(ctx context.Context, nc *netCtx, only map[string]bool) ([]*resultdb.TestResult, error) {
	depth := nc.finalityBlocks()

	var rows []*resultdb.TestResult
	var confirmMs, finalMs []float64
	for i := 0; i < nc.opts.FinalityTxCount; i++ {
		testName := fmt.Sprintf("finality-%d", i)
		if only != nil && !only[testName] {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		self := nc.sender()
		out := nc.sendAndConfirm(ctx, &self, big.NewInt(1), nil, false)
		row := nc.result(TestFinality, testName, start, out)
		if !out.success() {
			rows = append(rows, row)
			continue
		}
		confirmed := time.Now()
		confirmMs = append(confirmMs, float64(confirmed.Sub(start).Milliseconds()))

		if err := nc.awaitDepth(ctx, out.blockNumber, depth); err != nil {
			row.Success = false
			row.Error = err.Error()
			row.ErrorCategory = errs.CategoryOf(err)
			rows = append(rows, row)
			continue
		}
		finalMs = append(finalMs, float64(time.Since(confirmed).Milliseconds()))
		row.EndTime = time.Now()
		rows = append(rows, row)
	}

	p.recordLatency(nc, "confirmation_time", confirmMs)
	p.recordLatency(nc, "finality_time", finalMs)
	return rows, nil
}

// awaitDepth blocks until the chain head is depth blocks past inclusion.
func (nc *netCtx) awaitDepth(ctx context.Context, included, depth uint64) error {
	ctx, cancel := context.WithTimeout(ctx, nc.confirmationTimeout())
	defer cancel()

	ticker := time.NewTicker(nc.pollInterval())
	defer ticker.Stop()
	for {
		head, err := nc.prov.Client().BlockNumber(ctx)
		if err == nil && head >= included+depth {
			return nil
		}
		if err != nil {
			logger.Debug("head poll failed", "network", nc.spec.ID, "err", err)
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.CategoryTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *finalityPhase) recordLatency(nc *netCtx, name string, samples []float64) {
	if len(samples) == 0 {
		return
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	metric := &resultdb.Metric{
		Network:  nc.spec.ID,
		Name:     name,
		Value:    sum / float64(len(samples)),
		Unit:     "ms",
		TestType: TestFinality,
	}
	if err := nc.runner.store.InsertMetrics(nc.runID, []*resultdb.Metric{metric}); err != nil {
		logger.Warn("latency metric not persisted", "network", nc.spec.ID, "err", err)
	}
}
