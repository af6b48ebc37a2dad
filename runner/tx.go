// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package runner

import (
	"context"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/gas"
	"github.com/evmgauntlet/gauntlet/metrics"
	"github.com/evmgauntlet/gauntlet/netreg"
	"github.com/evmgauntlet/gauntlet/pool"
	"github.com/evmgauntlet/gauntlet/resultdb"
	"github.com/evmgauntlet/gauntlet/wei"
)

var metricRPCLatency = metrics.Histogram("runner_rpc_latency_ms", metrics.BucketRPC)

// netCtx is everything a phase needs for one network.
type netCtx struct {
	runner *Runner
	spec   *netreg.Spec
	prov   *pool.Provider
	signer *pool.Signer
	opts   *Options
	runID  string
}

// Transaction end states.
const (
	txConfirmed = "confirmed"
	txReplaced  = "replaced"
	txTimedOut  = "timed_out"
	txReverted  = "reverted"
	txFailed    = "failed"
)

// txOutcome is the resolved fate of one submitted transaction.
type txOutcome struct {
	state           string
	hash            common.Hash
	replaced        bool
	gasUsed         uint64
	effectivePrice  wei.Amount
	blockNumber     uint64
	contractAddress common.Address
	err             error
}

func (o *txOutcome) success() bool {
	// a replaced transaction whose replacement confirmed is a success
	return o.state == txConfirmed || o.state == txReplaced
}

func (o *txOutcome) cost() wei.Amount {
	return wei.Cost(o.effectivePrice, o.gasUsed)
}

// sender is the signing account, or the zero address when no key was given.
// Phases use it to build call targets; the actual send rejects a nil signer.
func (nc *netCtx) sender() common.Address {
	if nc.signer == nil {
		return common.Address{}
	}
	return nc.signer.Address()
}

// Zero-value timeouts on hand-built specs fall back to the loader defaults.
func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func (nc *netCtx) sendTimeout() time.Duration {
	return orDefault(nc.spec.Timeouts.Send, 30*time.Second)
}

func (nc *netCtx) receiptTimeout(deployment bool) time.Duration {
	if deployment {
		return orDefault(nc.spec.Timeouts.Deployment, 5*time.Minute)
	}
	return orDefault(nc.spec.Timeouts.Receipt, 2*time.Minute)
}

func (nc *netCtx) pollInterval() time.Duration {
	return orDefault(nc.spec.PollInterval, 4*time.Second)
}

// graceCtx returns a context that survives parent cancellation for the grace
// window, so in-flight sends and receipt polls can drain.
func (nc *netCtx) graceCtx(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		timer := time.NewTimer(nc.opts.GraceWindow)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-ctx.Done():
		}
	})
	return ctx, func() { stop(); cancel() }
}

// sendAndConfirm submits one transaction and follows it to an end state:
// Submitted -> Confirmed | Replaced -> Confirmed | TimedOut | Reverted |
// Failed. When the receipt stalls past half the budget the transaction is
// re-priced and re-sent on the same nonce; whichever version confirms wins.
func (nc *netCtx) sendAndConfirm(ctx context.Context, to *common.Address, value *big.Int, data []byte, deployment bool) *txOutcome {
	if nc.signer == nil {
		return &txOutcome{state: txFailed, err: errors.Wrap(ErrConfig, "no signer (set PRIVATE_KEY)")}
	}
	ctx, cancel := nc.graceCtx(ctx)
	defer cancel()

	quote, err := nc.runner.gas.Quote(ctx, nc.spec, nc.prov.Client(), gas.Opts{})
	if err != nil {
		return &txOutcome{state: txFailed, err: err}
	}

	gasLimit, err := nc.estimateGas(ctx, to, value, data)
	if err != nil {
		return &txOutcome{state: txFailed, err: err}
	}

	nonce, err := nc.signer.NextNonce(ctx)
	if err != nil {
		return &txOutcome{state: txFailed, err: err}
	}

	build := func(price wei.Amount) *types.Transaction {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price.Big(),
			Gas:      gasLimit,
			To:       to,
			Value:    value,
			Data:     data,
		})
	}

	sendCtx, sendCancel := context.WithTimeout(ctx, nc.sendTimeout())
	signed, err := nc.signer.SendTx(sendCtx, build(quote.Price))
	sendCancel()
	if err != nil {
		if errs.CategoryOf(err) == errs.CategoryNonce {
			// bring the local counter back in line for the next test
			if rerr := nc.signer.Resync(context.WithoutCancel(ctx)); rerr != nil {
				logger.Warn("nonce resync failed", "network", nc.spec.ID, "err", rerr)
			}
		}
		if errs.CategoryOf(err) == errs.CategoryTimeout {
			return &txOutcome{state: txTimedOut, err: err}
		}
		return &txOutcome{state: txFailed, err: err}
	}

	return nc.awaitReceipt(ctx, signed, build, quote.Price, deployment)
}

func (nc *netCtx) estimateGas(ctx context.Context, to *common.Address, value *big.Int, data []byte) (uint64, error) {
	msg := ethereum.CallMsg{From: nc.signer.Address(), To: to, Value: value, Data: data}
	estimate, err := nc.prov.Client().EstimateGas(ctx, msg)
	if err != nil {
		return 0, errs.Classify(errors.Wrap(err, "estimate gas"))
	}
	// headroom for estimation drift
	return estimate + estimate/5, nil
}

func (nc *netCtx) awaitReceipt(ctx context.Context, first *types.Transaction, build func(wei.Amount) *types.Transaction, price wei.Amount, deployment bool) *txOutcome {
	budget := nc.receiptTimeout(deployment)
	deadline := time.Now().Add(budget)
	replaceAt := time.Now().Add(budget / 2)
	hashes := []common.Hash{first.Hash()}
	replacedSent := false

	ticker := time.NewTicker(nc.pollInterval())
	defer ticker.Stop()

	for {
		// newest candidate first: a replacement supersedes the original
		for i := len(hashes) - 1; i >= 0; i-- {
			started := time.Now()
			receipt, err := nc.prov.Client().TransactionReceipt(ctx, hashes[i])
			metricRPCLatency.Observe(time.Since(started).Milliseconds())
			if err != nil {
				if errors.Is(err, ethereum.NotFound) {
					continue
				}
				if ctx.Err() != nil {
					return &txOutcome{state: txTimedOut, hash: hashes[i], err: errs.Classify(err)}
				}
				continue
			}
			out := &txOutcome{
				hash:        receipt.TxHash,
				replaced:    receipt.TxHash != first.Hash(),
				gasUsed:     receipt.GasUsed,
				blockNumber: receipt.BlockNumber.Uint64(),
			}
			if receipt.EffectiveGasPrice != nil {
				out.effectivePrice = wei.FromBig(receipt.EffectiveGasPrice)
			}
			if receipt.ContractAddress != (common.Address{}) {
				out.contractAddress = receipt.ContractAddress
			}
			if receipt.Status == types.ReceiptStatusFailed {
				out.state = txReverted
				out.err = errs.New(errs.CategoryRevert, "transaction reverted")
				return out
			}
			if out.replaced {
				out.state = txReplaced
			} else {
				out.state = txConfirmed
			}
			return out
		}

		if !replacedSent && time.Now().After(replaceAt) {
			bumped := price.MulFloat(1.25)
			resent, err := nc.signer.SendTx(ctx, build(bumped))
			if err == nil {
				logger.Debug("transaction re-priced",
					"network", nc.spec.ID, "old", hashes[0], "new", resent.Hash())
				hashes = append(hashes, resent.Hash())
			}
			replacedSent = true
		}

		if time.Now().After(deadline) {
			return &txOutcome{
				state: txTimedOut,
				hash:  hashes[len(hashes)-1],
				err:   errs.New(errs.CategoryTimeout, "receipt not found within budget"),
			}
		}
		select {
		case <-ctx.Done():
			return &txOutcome{
				state: txTimedOut,
				hash:  hashes[len(hashes)-1],
				err:   errs.Wrap(errs.CategoryTimeout, ctx.Err()),
			}
		case <-ticker.C:
		}
	}
}

// result converts a transaction outcome into a persistable test row.
func (nc *netCtx) result(testType, testName string, start time.Time, out *txOutcome) *resultdb.TestResult {
	row := &resultdb.TestResult{
		Network:     nc.spec.ID,
		TestType:    testType,
		TestName:    testName,
		Success:     out.success(),
		StartTime:   start,
		EndTime:     time.Now(),
		GasUsed:     out.gasUsed,
		GasPrice:    out.effectivePrice,
		BlockNumber: out.blockNumber,
		CostNative:  out.cost().Ether(),
	}
	if out.hash != (common.Hash{}) {
		row.TxHash = out.hash.Hex()
	}
	if out.err != nil {
		row.Error = out.err.Error()
		row.ErrorCategory = errs.CategoryOf(out.err)
	}
	if out.replaced {
		row.Metadata = `{"replaced":true}`
	}
	return row
}
