// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package runner

import (
	"context"
	"time"

	"github.com/evmgauntlet/gauntlet/bus"
	"github.com/evmgauntlet/gauntlet/co"
	"github.com/evmgauntlet/gauntlet/netreg"
	"github.com/evmgauntlet/gauntlet/resultdb"
	"github.com/evmgauntlet/gauntlet/wei"
)

// ProbeNetworks checks liveness of the given networks (all configured ones
// when ids is empty): head block, suggested gas price and round-trip latency.
// Each probe is persisted as a NetworkStatus row and announced on the bus.
// Probes run concurrently; an unreachable network is an offline row, not an
// error.
func (r *Runner) ProbeNetworks(ctx context.Context, ids []string) ([]*resultdb.NetworkStatus, error) {
	var specs []*netreg.Spec
	if len(ids) == 0 {
		specs = r.networks.All()
	} else {
		var err error
		if specs, err = r.resolveNetworks(ids); err != nil {
			return nil, err
		}
	}

	statuses := make([]*resultdb.NetworkStatus, len(specs))
	var goes co.Goes
	for i, spec := range specs {
		goes.Go(func() {
			statuses[i] = r.probeOne(ctx, spec)
		})
	}
	goes.Wait()

	for _, status := range statuses {
		if err := r.store.InsertNetworkStatus(status); err != nil {
			logger.Warn("network status not persisted", "network", status.Network, "err", err)
		}
		if r.bus != nil {
			r.bus.PublishNetworkStatusChanged(bus.NetworkStatusChanged{
				NetworkID:      status.Network,
				Online:         status.Online,
				BlockNumber:    status.BlockNumber,
				GasPrice:       status.GasPrice,
				ResponseTimeMs: status.ResponseTime.Milliseconds(),
			})
		}
	}
	return statuses, nil
}

func (r *Runner) probeOne(ctx context.Context, spec *netreg.Spec) *resultdb.NetworkStatus {
	status := &resultdb.NetworkStatus{
		Network:   spec.ID,
		ChainID:   spec.ChainID,
		RPCURL:    spec.PrimaryEndpoint(),
		Timestamp: time.Now(),
	}

	prov, err := r.pool.Provider(ctx, spec)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	defer r.pool.Release(prov)

	start := time.Now()
	head, err := prov.Client().BlockNumber(ctx)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Online = true
	status.BlockNumber = head

	if price, err := prov.Client().SuggestGasPrice(ctx); err == nil {
		status.GasPrice = wei.FromBig(price)
	}
	return status
}

// WatchNetworks probes every interval until ctx is done. It is the engine
// behind the CLI's --watch status view.
func (r *Runner) WatchNetworks(ctx context.Context, ids []string, interval time.Duration, fn func([]*resultdb.NetworkStatus)) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		statuses, err := r.ProbeNetworks(ctx, ids)
		if err != nil {
			return err
		}
		if fn != nil {
			fn(statuses)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
