// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package netreg

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/evmgauntlet/gauntlet/errs"
	"github.com/evmgauntlet/gauntlet/wei"
)

var (
	ErrInvalidSchema    = errors.New("netreg: spec failed schema validation")
	ErrNoUsableEndpoint = errors.New("netreg: no usable rpc endpoint")
	ErrDuplicateChainID = errors.New("netreg: duplicate chain id")
	ErrDuplicateID      = errors.New("netreg: duplicate network id")
	ErrNoNetworks       = errors.New("netreg: no network loaded")
)

// ValidationError pins a schema violation to the field that caused it.
type ValidationError struct {
	Path    string
	Message string
	Param   string
}

func (e ValidationError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Path, e.Message, e.Param)
	}
	return e.Path + ": " + e.Message
}

// rawSpec mirrors the on-disk YAML document. Gas figures are gwei, matching
// how operators write them.
type rawSpec struct {
	ID     string `yaml:"id" validate:"required,lowercase,excludesall= "`
	Name   string `yaml:"name" validate:"required"`
	ChainID uint64 `yaml:"chainId" validate:"required,gt=0"`
	Symbol string `yaml:"symbol" validate:"required"`
	Type   string `yaml:"type" validate:"required,oneof=mainnet testnet local"`

	RPC struct {
		Public []string `yaml:"public" validate:"required,min=1"`
		WS     []string `yaml:"ws"`
	} `yaml:"rpc"`

	Explorer struct {
		URL         string `yaml:"url"`
		TxPath      string `yaml:"txPath"`
		AddressPath string `yaml:"addressPath"`
	} `yaml:"explorer"`

	Faucet *struct {
		URL      string `yaml:"url"`
		Amount   string `yaml:"amount"`
		Cooldown string `yaml:"cooldown"`
	} `yaml:"faucet"`

	Gas struct {
		Strategy      string   `yaml:"strategy" validate:"required,oneof=fixed adaptive dynamic"`
		RequiredGwei  float64  `yaml:"requiredGwei"`
		ToleranceGwei float64  `yaml:"toleranceGwei"`
		BaseGwei      float64  `yaml:"baseGwei"`
		FallbackGwei  float64  `yaml:"fallbackGwei"`
		MaxGwei       *float64 `yaml:"maxGwei"`
		MainnetGwei   float64  `yaml:"mainnetGwei"`
	} `yaml:"gas"`

	Timeouts struct {
		Send         string `yaml:"send"`
		Receipt      string `yaml:"receipt"`
		Deployment   string `yaml:"deployment"`
		Confirmation string `yaml:"confirmation"`
	} `yaml:"timeouts"`

	Features       []string `yaml:"features"`
	FinalityBlocks uint64   `yaml:"finalityBlocks"`
	PollInterval   string   `yaml:"pollInterval"`

	Retry map[string]struct {
		MaxRetries  int `yaml:"maxRetries"`
		BaseDelayMs int `yaml:"baseDelayMs"`
	} `yaml:"retry"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var templateRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandTemplates substitutes ${VAR} against the environment. Placeholders
// whose variable is unset are left as-is so callers can detect them.
func expandTemplates(s string) string {
	return templateRe.ReplaceAllStringFunc(s, func(m string) string {
		name := templateRe.FindStringSubmatch(m)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
}

func hasUnresolvedTemplate(s string) bool {
	return templateRe.MatchString(s)
}

// parseSpec turns one YAML document into an immutable Spec. All validation
// errors found are returned together (allErrors mode).
func parseSpec(data []byte) (*Spec, []ValidationError) {
	var raw rawSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, []ValidationError{{Path: "$", Message: "yaml parse failed: " + err.Error()}}
	}

	var verrs []ValidationError
	if err := validate.Struct(&raw); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				verrs = append(verrs, ValidationError{
					Path:    strings.TrimPrefix(fe.Namespace(), "rawSpec."),
					Message: "failed rule " + fe.Tag(),
					Param:   fe.Param(),
				})
			}
		} else {
			verrs = append(verrs, ValidationError{Path: "$", Message: err.Error()})
		}
	}

	// Endpoints with unresolved templates are dropped, not fatal; losing all
	// of them is.
	var rpcURLs []string
	for _, u := range raw.RPC.Public {
		u = expandTemplates(strings.TrimSpace(u))
		if u == "" || hasUnresolvedTemplate(u) {
			continue
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			verrs = append(verrs, ValidationError{Path: "rpc.public", Message: "not an http(s) url", Param: u})
			continue
		}
		rpcURLs = append(rpcURLs, u)
	}
	if len(rpcURLs) == 0 {
		verrs = append(verrs, ValidationError{Path: "rpc.public", Message: ErrNoUsableEndpoint.Error()})
	}

	var wsURLs []string
	for _, u := range raw.RPC.WS {
		u = expandTemplates(strings.TrimSpace(u))
		if u == "" || hasUnresolvedTemplate(u) {
			continue
		}
		if strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://") {
			wsURLs = append(wsURLs, u)
		}
	}

	gasCfg := GasConfig{
		Strategy:        GasStrategy(raw.Gas.Strategy),
		Required:        wei.FromGwei(raw.Gas.RequiredGwei),
		Tolerance:       wei.FromGwei(raw.Gas.ToleranceGwei),
		Base:            wei.FromGwei(raw.Gas.BaseGwei),
		Fallback:        wei.FromGwei(raw.Gas.FallbackGwei),
		MainnetGasPrice: wei.FromGwei(raw.Gas.MainnetGwei),
	}
	if raw.Gas.MaxGwei != nil {
		gasCfg.MaxGasPrice = wei.FromGwei(*raw.Gas.MaxGwei)
	}
	if err := gasCfg.Validate(); err != nil {
		verrs = append(verrs, ValidationError{Path: "gas", Message: err.Error()})
	}

	var features Feature
	for _, name := range raw.Features {
		f, ok := featureNames[strings.ToLower(name)]
		if !ok {
			verrs = append(verrs, ValidationError{Path: "features", Message: "unknown feature", Param: name})
			continue
		}
		features |= f
	}

	timeouts := Timeouts{
		Send:         parseDuration(raw.Timeouts.Send, defaultSendTimeout, &verrs, "timeouts.send"),
		Receipt:      parseDuration(raw.Timeouts.Receipt, defaultReceiptTimeout, &verrs, "timeouts.receipt"),
		Deployment:   parseDuration(raw.Timeouts.Deployment, defaultDeployTimeout, &verrs, "timeouts.deployment"),
		Confirmation: parseDuration(raw.Timeouts.Confirmation, defaultConfirmTimeout, &verrs, "timeouts.confirmation"),
	}

	retry := make(map[errs.Category]RetryOverride)
	for name, o := range raw.Retry {
		cat := errs.Category(name)
		switch cat {
		case errs.CategoryGas, errs.CategoryTimeout, errs.CategoryNonce,
			errs.CategoryConnection, errs.CategoryRevert, errs.CategoryRatelimit:
			retry[cat] = RetryOverride{
				MaxRetries: o.MaxRetries,
				BaseDelay:  time.Duration(o.BaseDelayMs) * time.Millisecond,
			}
		default:
			verrs = append(verrs, ValidationError{Path: "retry", Message: "unknown error class", Param: name})
		}
	}

	var faucet *Faucet
	if raw.Faucet != nil {
		faucet = &Faucet{
			URL:      expandTemplates(raw.Faucet.URL),
			Amount:   raw.Faucet.Amount,
			Cooldown: parseDuration(raw.Faucet.Cooldown, 24*time.Hour, &verrs, "faucet.cooldown"),
		}
	}

	finality := raw.FinalityBlocks
	if finality == 0 {
		finality = defaultFinalityBlocks
	}

	if len(verrs) > 0 {
		return nil, verrs
	}

	return &Spec{
		ID:             raw.ID,
		Name:           raw.Name,
		ChainID:        raw.ChainID,
		Symbol:         raw.Symbol,
		Type:           NetworkType(raw.Type),
		Features:       features,
		RPCEndpoints:   rpcURLs,
		WSEndpoints:    wsURLs,
		Explorer:       Explorer(raw.Explorer),
		Faucet:         faucet,
		Gas:            gasCfg,
		Timeouts:       timeouts,
		FinalityBlocks: finality,
		PollInterval:   parseDuration(raw.PollInterval, defaultPollInterval, nil, ""),
		Retry:          retry,
	}, nil
}

func parseDuration(s string, def time.Duration, verrs *[]ValidationError, path string) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		if verrs != nil {
			*verrs = append(*verrs, ValidationError{Path: path, Message: "invalid duration", Param: s})
		}
		return def
	}
	return d
}
