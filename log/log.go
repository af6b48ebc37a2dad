// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package log is the process-wide structured logger. Packages grab a child
// logger once at init:
//
//	var logger = log.WithContext("pkg", "runner")
//
// and the CLI installs the real handler and verbosity at startup. Loggers
// created before that still route through the swapped-in handler.
package log

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

// Extra levels beyond the slog defaults, matching legacy verbosity grades.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelCrit  = slog.Level(12)
)

var (
	level   slog.LevelVar
	current atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(LevelInfo)
	current.Store(slog.New(NewTerminalHandler(os.Stderr, &level, false)))
}

// Root returns the current root logger.
func Root() *slog.Logger {
	return current.Load()
}

// SetRootHandler replaces the root handler. Loggers already derived via
// WithContext keep forwarding to the new handler.
func SetRootHandler(h slog.Handler) {
	current.Store(slog.New(h))
}

// Level returns the shared level var so callers (CLI, admin surface) can
// change verbosity at runtime.
func Level() *slog.LevelVar {
	return &level
}

// SetVerbosity maps a legacy numeric verbosity flag onto the shared level.
// 0=crit 1=error 2=warn 3=info 4=debug 5=trace.
func SetVerbosity(v int) {
	switch {
	case v <= 0:
		level.Set(LevelCrit)
	case v == 1:
		level.Set(LevelError)
	case v == 2:
		level.Set(LevelWarn)
	case v == 3:
		level.Set(LevelInfo)
	case v == 4:
		level.Set(LevelDebug)
	default:
		level.Set(LevelTrace)
	}
}

// WithContext returns a logger carrying the given key-value context. The
// returned logger follows root handler swaps, so it is safe to capture in a
// package-level var.
func WithContext(args ...any) *slog.Logger {
	return slog.New(&forwardHandler{}).With(args...)
}

// forwardHandler delegates every call to the current root handler, applying
// accumulated attrs on the way through.
type forwardHandler struct {
	attrs []slog.Attr
}

func (h *forwardHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return Root().Handler().Enabled(ctx, lvl)
}

func (h *forwardHandler) Handle(ctx context.Context, r slog.Record) error {
	if len(h.attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(h.attrs...)
	}
	return Root().Handler().Handle(ctx, r)
}

func (h *forwardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, attrs...)
	merged = append(merged, h.attrs...)
	return &forwardHandler{attrs: merged}
}

func (h *forwardHandler) WithGroup(name string) slog.Handler {
	// groups are not used in this codebase
	return h
}
