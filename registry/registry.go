// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package registry tracks contract deployments per network and probes their
// health. At most one deployment per (chainID, type, name) is active at a
// time; saving a new one supersedes the old.
package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/log"
	"github.com/evmgauntlet/gauntlet/metrics"
	"github.com/evmgauntlet/gauntlet/pool"
	"github.com/evmgauntlet/gauntlet/resultdb"
	"github.com/evmgauntlet/gauntlet/retry"
)

var logger = log.WithContext("pkg", "registry")

var metricDeploymentsSaved = metrics.CounterVec("registry_deployments_saved", []string{"network"})

// Registry persists deployments through the result store and talks to
// networks through the provider pool.
type Registry struct {
	store *resultdb.Store
	pool  *pool.Pool
	retry *retry.Manager
}

func New(store *resultdb.Store, p *pool.Pool, retryMgr *retry.Manager) *Registry {
	return &Registry{store: store, pool: p, retry: retryMgr}
}

// Save records d as the active deployment of its (chainID, type, name),
// superseding any previous one. A missing deployment id is generated.
func (r *Registry) Save(d *resultdb.Deployment) error {
	if d.Address == "" || !common.IsHexAddress(d.Address) {
		return errors.Errorf("registry: invalid address %q", d.Address)
	}
	if d.Name == "" || d.Type == "" {
		return errors.New("registry: name and type are required")
	}
	if d.DeploymentID == "" {
		d.DeploymentID = uuid.NewString()
	}
	d.Address = strings.ToLower(d.Address)

	if err := r.store.SaveDeployment(d); err != nil {
		return err
	}
	metricDeploymentsSaved.AddWithLabels(1, map[string]string{"network": d.Network})
	logger.Info("deployment saved",
		"network", d.Network, "type", d.Type, "name", d.Name,
		"address", d.Address, "version", d.Version)
	return nil
}

// Active returns the one active deployment for the triple.
func (r *Registry) Active(chainID uint64, contractType, name string) (*resultdb.Deployment, error) {
	return r.store.GetActiveDeployment(chainID, contractType, name)
}

// ActiveByType lists the network's active deployments of one type.
func (r *Registry) ActiveByType(chainID uint64, contractType string) ([]*resultdb.Deployment, error) {
	return r.store.GetActiveDeploymentsByType(chainID, contractType)
}

// ByNetwork lists a network's deployments.
func (r *Registry) ByNetwork(chainID uint64, activeOnly bool) ([]*resultdb.Deployment, error) {
	return r.store.GetDeploymentsByNetwork(chainID, activeOnly)
}

// MarkInactive retires a deployment without replacing it.
func (r *Registry) MarkInactive(deploymentID string) error {
	return r.store.MarkDeploymentInactive(deploymentID)
}

// MarkVerified flags a deployment as source-verified.
func (r *Registry) MarkVerified(deploymentID string) error {
	return r.store.MarkDeploymentVerified(deploymentID)
}

// ABI returns the parsed ABI stored with a deployment.
func (r *Registry) ABI(deploymentID string) (*abi.ABI, error) {
	raw, err := r.store.GetDeploymentABI(deploymentID)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.Errorf("registry: deployment %s has no ABI", deploymentID)
	}
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "registry: parse abi")
	}
	return &parsed, nil
}

// Stats summarizes deployments for one network; chainID 0 means all.
func (r *Registry) Stats(chainID uint64) (*resultdb.DeploymentStats, error) {
	return r.store.GetDeploymentStats(chainID)
}
