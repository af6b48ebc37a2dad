// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package errs classifies transaction and RPC failures into the categories
// the retry policy and the result store operate on.
package errs

import (
	"context"
	"strings"

	ethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// Category is the failure class of a classified error.
type Category string

const (
	CategoryGas        Category = "gas"
	CategoryTimeout    Category = "timeout"
	CategoryNonce      Category = "nonce"
	CategoryConnection Category = "connection"
	CategoryRevert     Category = "revert"
	CategoryRatelimit  Category = "ratelimit"
	CategoryUnknown    Category = "unknown"
)

// Severity grades how alarming a failure class is for reporting.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Error is a classified failure. It wraps the underlying cause so errors.Is
// and errors.As keep working through it.
type Error struct {
	Category  Category
	Retryable bool
	Severity  Severity
	// Critical marks errors that should stop a sequential run.
	Critical bool
	cause    error
}

func (e *Error) Error() string {
	return string(e.Category) + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a classified error from a message.
func New(cat Category, msg string) *Error {
	return wrap(cat, errors.New(msg))
}

// Wrap classifies err under the given category, overriding pattern matching.
func Wrap(cat Category, err error) *Error {
	if err == nil {
		return nil
	}
	return wrap(cat, err)
}

func wrap(cat Category, cause error) *Error {
	return &Error{
		Category:  cat,
		Retryable: defaultRetryable(cat),
		Severity:  defaultSeverity(cat),
		cause:     cause,
	}
}

func defaultRetryable(cat Category) bool {
	switch cat {
	case CategoryRevert, CategoryUnknown:
		return false
	default:
		return true
	}
}

func defaultSeverity(cat Category) Severity {
	switch cat {
	case CategoryRevert:
		return SeverityHigh
	case CategoryConnection, CategoryTimeout:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// substring patterns per category, checked in order. Revert wins over gas so
// that "execution reverted: out of gas budget" classifies as revert.
var patterns = []struct {
	cat  Category
	subs []string
}{
	{CategoryRevert, []string{
		"execution reverted",
		"revert",
		"invalid opcode",
	}},
	{CategoryNonce, []string{
		"nonce too low",
		"nonce too high",
		"invalid nonce",
		"already known",
	}},
	{CategoryGas, []string{
		"underpriced",
		"intrinsic gas too low",
		"gas required exceeds",
		"insufficient funds for gas",
		"fee cap less than",
		"max fee per gas less than block base fee",
		"gas price below minimum",
	}},
	{CategoryRatelimit, []string{
		"429",
		"too many requests",
		"rate limit",
		"request rate exceeded",
		"daily request count exceeded",
	}},
	{CategoryTimeout, []string{
		"context deadline exceeded",
		"timeout",
		"timed out",
		"deadline exceeded",
	}},
	{CategoryConnection, []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"broken pipe",
		"websocket",
		"eof",
		"tls handshake",
		"client is closed",
	}},
}

// Classify inspects err and returns it as a classified *Error. Already
// classified errors pass through unchanged. Pattern matching runs on the
// whole error chain text plus structured RPC error codes.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return wrap(CategoryTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		e := wrap(CategoryUnknown, err)
		e.Retryable = false
		return e
	}

	var httpErr ethrpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return wrap(CategoryRatelimit, err)
		case httpErr.StatusCode >= 500:
			return wrap(CategoryConnection, err)
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		for _, sub := range p.subs {
			if strings.Contains(msg, sub) {
				return wrap(p.cat, err)
			}
		}
	}
	return wrap(CategoryUnknown, err)
}

// CategoryOf is shorthand for Classify(err).Category, with "" for nil.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	return Classify(err).Category
}

// IsRetryable reports whether err may be retried per its classification.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable
}

// IsCritical reports whether a sequential run should stop on err.
func IsCritical(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Critical
}

// MarkCritical flags err so sequential runs stop instead of moving on to the
// next network.
func MarkCritical(err error) *Error {
	ce := Classify(err)
	ce.Critical = true
	return ce
}
