// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package errs

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassifyCategories(t *testing.T) {
	cases := []struct {
		msg  string
		want Category
	}{
		{"replacement transaction underpriced", CategoryGas},
		{"intrinsic gas too low", CategoryGas},
		{"nonce too low", CategoryNonce},
		{"nonce too high: expected 4 got 9", CategoryNonce},
		{"execution reverted: ERC20: transfer amount exceeds balance", CategoryRevert},
		{"dial tcp: connection refused", CategoryConnection},
		{"read tcp: unexpected EOF", CategoryConnection},
		{"429 Too Many Requests", CategoryRatelimit},
		{"request timed out after 30s", CategoryTimeout},
		{"something nobody has seen before", CategoryUnknown},
	}
	for _, tc := range cases {
		got := Classify(errors.New(tc.msg))
		assert.Equal(t, tc.want, got.Category, tc.msg)
	}
}

func TestRevertWinsOverGas(t *testing.T) {
	// A revert message mentioning gas must still classify as revert, since
	// reverts are never retried.
	e := Classify(errors.New("execution reverted: gas price below minimum"))
	assert.Equal(t, CategoryRevert, e.Category)
	assert.False(t, e.Retryable)
}

func TestContextErrors(t *testing.T) {
	e := Classify(fmt.Errorf("sending tx: %w", context.DeadlineExceeded))
	assert.Equal(t, CategoryTimeout, e.Category)
	assert.True(t, e.Retryable)

	e = Classify(context.Canceled)
	assert.Equal(t, CategoryUnknown, e.Category)
	assert.False(t, e.Retryable)
}

func TestClassifyPassThrough(t *testing.T) {
	orig := New(CategoryGas, "underpriced")
	wrapped := errors.Wrap(orig, "phase evm")
	assert.Same(t, orig, Classify(wrapped))
}

func TestRetryableDefaults(t *testing.T) {
	assert.True(t, New(CategoryConnection, "x").Retryable)
	assert.True(t, New(CategoryRatelimit, "x").Retryable)
	assert.True(t, New(CategoryTimeout, "x").Retryable)
	assert.False(t, New(CategoryRevert, "x").Retryable)
	assert.False(t, New(CategoryUnknown, "x").Retryable)
}

func TestCritical(t *testing.T) {
	err := MarkCritical(errors.New("provider creation failed"))
	assert.True(t, IsCritical(err))
	assert.False(t, IsCritical(errors.New("plain")))

	// criticality survives wrapping
	assert.True(t, IsCritical(errors.Wrap(err, "network foo")))
}

func TestUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	e := Classify(fmt.Errorf("wrapped: %w", sentinel))
	assert.True(t, errors.Is(e, sentinel))
}
