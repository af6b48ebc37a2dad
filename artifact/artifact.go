// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package artifact loads compiled contract artifacts (ABI plus creation
// bytecode) from the build output layouts of the common toolchains.
package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/evmgauntlet/gauntlet/log"
)

var logger = log.WithContext("pkg", "artifact")

var (
	ErrNotFound      = errors.New("artifact: not found")
	ErrEmptyBytecode = errors.New("artifact: empty bytecode")
)

// Artifact is one compiled contract.
type Artifact struct {
	Name     string
	ABI      abi.ABI
	RawABI   json.RawMessage
	Bytecode []byte
	Path     string
}

// Loader resolves artifacts under a base directory.
type Loader struct {
	baseDir string
}

func NewLoader(baseDir string) *Loader {
	if baseDir == "" {
		baseDir = "."
	}
	return &Loader{baseDir: baseDir}
}

// candidates are tried in order: hardhat layout first, then the flat and
// truffle layouts.
func (l *Loader) candidates(name string) []string {
	return []string{
		filepath.Join(l.baseDir, "artifacts", "contracts", name+".sol", name+".json"),
		filepath.Join(l.baseDir, "contracts", name+".json"),
		filepath.Join(l.baseDir, "build", "contracts", name+".json"),
	}
}

// Load finds the artifact for a contract name using the lookup order of
// candidates.
func (l *Loader) Load(name string) (*Artifact, error) {
	for _, path := range l.candidates(name) {
		art, err := LoadFile(path)
		if err == nil {
			logger.Debug("artifact loaded", "contract", name, "path", path)
			return art, nil
		}
		if !os.IsNotExist(errors.Cause(err)) {
			return nil, err
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "contract %s under %s", name, l.baseDir)
}

// rawArtifact covers hardhat, truffle and foundry output. Foundry nests the
// bytecode in an object; the others keep it flat.
type rawArtifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

// LoadFile reads one artifact from an explicit path.
func LoadFile(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "artifact: read")
	}

	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "artifact: decode %s", path)
	}
	if len(raw.ABI) == 0 {
		return nil, errors.Errorf("artifact: %s has no abi", path)
	}

	parsed, err := abi.JSON(strings.NewReader(string(raw.ABI)))
	if err != nil {
		return nil, errors.Wrapf(err, "artifact: parse abi of %s", path)
	}

	bytecode, err := decodeBytecode(raw.Bytecode)
	if err != nil {
		return nil, errors.Wrapf(err, "artifact: %s", path)
	}
	if len(bytecode) == 0 {
		return nil, errors.Wrapf(ErrEmptyBytecode, "%s: interfaces and abstract contracts cannot be deployed", path)
	}

	name := raw.ContractName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	return &Artifact{
		Name:     name,
		ABI:      parsed,
		RawABI:   raw.ABI,
		Bytecode: bytecode,
		Path:     path,
	}, nil
}

func decodeBytecode(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyBytecode
	}
	var flat string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return parseHexBytecode(flat)
	}
	var nested struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Object != "" {
		return parseHexBytecode(nested.Object)
	}
	return nil, errors.New("unrecognized bytecode encoding")
}

func parseHexBytecode(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, ErrEmptyBytecode
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode bytecode")
	}
	return b, nil
}

// EncodeConstructorArgs packs constructor arguments against the artifact's ABI
// and appends them to the creation bytecode.
func (a *Artifact) EncodeConstructorArgs(args ...any) ([]byte, error) {
	packed, err := a.ABI.Pack("", args...)
	if err != nil {
		return nil, errors.Wrap(err, "artifact: pack constructor args")
	}
	return append(append([]byte{}, a.Bytecode...), packed...), nil
}
