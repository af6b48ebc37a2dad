// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package netreg

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/log"
)

var logger = log.WithContext("pkg", "netreg")

// Registry loads and indexes network specs from a directory. Lookups read an
// immutable snapshot; Refresh swaps in a new one atomically.
type Registry struct {
	dir string

	mu   sync.RWMutex
	snap *snapshot
}

type snapshot struct {
	byID    map[string]*Spec
	byChain map[uint64]*Spec
	// order preserves file name order for deterministic iteration
	order []string
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byID:    make(map[string]*Spec),
		byChain: make(map[uint64]*Spec),
	}
}

// New creates a registry over dir. Call Load before first use.
func New(dir string) *Registry {
	return &Registry{dir: dir, snap: emptySnapshot()}
}

// Load reads every spec file in the directory. Files that fail to parse or
// validate are logged and skipped; duplicates lose to the first occurrence.
// Load fails only when no network remains.
func (r *Registry) Load() error {
	snap, err := r.build()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
	logger.Info("network specs loaded", "dir", r.dir, "count", len(snap.order))
	return nil
}

// Refresh atomically rebuilds the snapshot. Readers observe either the old or
// the new map, never a partial one. On build failure the old snapshot stays.
func (r *Registry) Refresh() error {
	return r.Load()
}

// isSpecFile filters directory entries down to network spec documents. The
// schema document and underscore-prefixed files are not specs.
func isSpecFile(name string) bool {
	if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.HasPrefix(name, "schema.") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

func (r *Registry) build() (*snapshot, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, errors.Wrap(err, "netreg: read spec dir")
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && isSpecFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	snap := emptySnapshot()
	for _, name := range names {
		path := filepath.Join(r.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("spec file unreadable, skipped", "file", name, "err", err)
			continue
		}
		spec, verrs := parseSpec(data)
		if len(verrs) > 0 {
			for _, ve := range verrs {
				logger.Warn("spec rejected", "file", name, "path", ve.Path, "reason", ve.Message, "param", ve.Param)
			}
			continue
		}
		if want := strings.TrimSuffix(name, filepath.Ext(name)); want != spec.ID {
			logger.Warn("spec file name does not match id, skipped", "file", name, "id", spec.ID)
			continue
		}
		if _, dup := snap.byID[spec.ID]; dup {
			logger.Warn("spec skipped", "file", name, "err", ErrDuplicateID)
			continue
		}
		if _, dup := snap.byChain[spec.ChainID]; dup {
			logger.Warn("spec skipped", "file", name, "err", ErrDuplicateChainID, "chainId", spec.ChainID)
			continue
		}
		snap.byID[spec.ID] = spec
		snap.byChain[spec.ChainID] = spec
		snap.order = append(snap.order, spec.ID)
	}

	if len(snap.order) == 0 {
		return nil, ErrNoNetworks
	}
	return snap, nil
}

func (r *Registry) current() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Get looks up a spec by network id.
func (r *Registry) Get(id string) (*Spec, bool) {
	s, ok := r.current().byID[id]
	return s, ok
}

// GetByChainID looks up a spec by chain id.
func (r *Registry) GetByChainID(chainID uint64) (*Spec, bool) {
	s, ok := r.current().byChain[chainID]
	return s, ok
}

// All returns every spec in file name order.
func (r *Registry) All() []*Spec {
	snap := r.current()
	out := make([]*Spec, 0, len(snap.order))
	for _, id := range snap.order {
		out = append(out, snap.byID[id])
	}
	return out
}

// ByType returns specs of the given type, in file name order.
func (r *Registry) ByType(t NetworkType) []*Spec {
	var out []*Spec
	for _, s := range r.All() {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// Validate parses and validates a single document without touching the
// registry. Used by config linting surfaces.
func Validate(data []byte) []ValidationError {
	_, verrs := parseSpec(data)
	return verrs
}
