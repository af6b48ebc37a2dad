// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"context"
	"encoding/json"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/evmgauntlet/gauntlet/metrics"
	"github.com/evmgauntlet/gauntlet/netreg"
	"github.com/evmgauntlet/gauntlet/pool"
	"github.com/evmgauntlet/gauntlet/resultdb"
	"github.com/evmgauntlet/gauntlet/retry"
)

// Health states, worst wins.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

var metricHealthLatency = metrics.Histogram("registry_health_check_ms", metrics.BucketRPC)

// codeCheckRetries bounds the code-at probe; the other probes are single-shot
// since the connection is already proven by then.
var codeCheckRetries = 2

// HealthReport is the outcome of one deployment probe.
type HealthReport struct {
	DeploymentID string        `json:"deploymentId"`
	Name         string        `json:"name"`
	Status       string        `json:"status"`
	ResponseTime time.Duration `json:"-"`
	CodePresent  bool          `json:"codePresent"`
	ChainAlive   bool          `json:"chainAlive"`
	ViewCallOK   bool          `json:"viewCallOk"`
	Error        string        `json:"error,omitempty"`
}

// CheckHealth probes one deployment: code at the address, chain liveness,
// and a zero-argument view call when the ABI offers one. The outcome is
// persisted. A deployment that has vanished from the store yields (nil, nil);
// it may have been purged while the probe was queued.
func (r *Registry) CheckHealth(ctx context.Context, spec *netreg.Spec, deploymentID string) (*HealthReport, error) {
	d, err := r.store.GetDeployment(deploymentID)
	if errors.Is(err, resultdb.ErrDeploymentNotFound) {
		logger.Debug("health check skipped, deployment gone", "deployment", deploymentID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	prov, err := r.pool.Provider(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(prov)

	report := &HealthReport{DeploymentID: d.DeploymentID, Name: d.Name, Status: StatusHealthy}
	start := time.Now()
	addr := common.HexToAddress(d.Address)

	err = r.retry.Execute(ctx, retry.Opts{ChainID: spec.ChainID, MaxRetries: &codeCheckRetries},
		func(ctx context.Context) error {
			code, err := prov.Client().CodeAt(ctx, addr, nil)
			if err != nil {
				return err
			}
			if len(code) == 0 {
				report.Status = StatusFailed
				report.Error = "no code at address"
			} else {
				report.CodePresent = true
			}
			return nil
		})
	if err != nil {
		report.Status = StatusFailed
		report.Error = err.Error()
	}

	if report.CodePresent {
		if _, err := prov.Client().BlockNumber(ctx); err != nil {
			report.Status = StatusDegraded
			report.Error = err.Error()
		} else {
			report.ChainAlive = true
			r.tryViewCall(ctx, prov, d, addr, report)
		}
	}

	report.ResponseTime = time.Since(start)
	metricHealthLatency.Observe(report.ResponseTime.Milliseconds())

	checks, _ := json.Marshal(report)
	if err := r.store.InsertHealthCheck(&resultdb.HealthCheck{
		DeploymentID: d.DeploymentID,
		Status:       report.Status,
		ResponseTime: report.ResponseTime,
		Error:        report.Error,
		Checks:       string(checks),
	}); err != nil {
		return nil, err
	}
	logger.Debug("health check done",
		"deployment", d.DeploymentID, "name", d.Name, "status", report.Status,
		"elapsed", report.ResponseTime)
	return report, nil
}

// tryViewCall exercises the first parameterless view or pure method of the
// stored ABI. No such method, or no ABI at all, leaves the report untouched.
func (r *Registry) tryViewCall(ctx context.Context, prov *pool.Provider, d *resultdb.Deployment, addr common.Address, report *HealthReport) {
	if d.ABI == "" {
		return
	}
	parsed, err := r.ABI(d.DeploymentID)
	if err != nil {
		report.Status = StatusDegraded
		report.Error = err.Error()
		return
	}
	for _, method := range parsed.Methods {
		if len(method.Inputs) > 0 {
			continue
		}
		if method.StateMutability != "view" && method.StateMutability != "pure" {
			continue
		}
		data, err := parsed.Pack(method.Name)
		if err != nil {
			continue
		}
		if _, err := prov.Client().CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil); err != nil {
			report.Status = StatusDegraded
			report.Error = "view call " + method.Name + ": " + err.Error()
			return
		}
		report.ViewCallOK = true
		return
	}
}

// VerifyBatch probes every listed deployment, at most maxParallel at a time.
// Results arrive in input order; entries for vanished deployments are nil.
func (r *Registry) VerifyBatch(ctx context.Context, spec *netreg.Spec, deploymentIDs []string, maxParallel int) ([]*HealthReport, error) {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	reports := make([]*HealthReport, len(deploymentIDs))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallel)
	for i, id := range deploymentIDs {
		group.Go(func() error {
			rep, err := r.CheckHealth(ctx, spec, id)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// CheckAllActive probes every active deployment of a network.
func (r *Registry) CheckAllActive(ctx context.Context, spec *netreg.Spec, maxParallel int) ([]*HealthReport, error) {
	active, err := r.ByNetwork(spec.ChainID, true)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(active))
	for i, d := range active {
		ids[i] = d.DeploymentID
	}
	return r.VerifyBatch(ctx, spec, ids, maxParallel)
}

// CleanupOldHealthChecks drops probe history older than maxAge.
func (r *Registry) CleanupOldHealthChecks(maxAge time.Duration) (int64, error) {
	n, err := r.store.DeleteHealthChecksBefore(time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info("old health checks removed", "rows", n)
	}
	return n, nil
}
