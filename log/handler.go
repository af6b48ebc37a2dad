// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const termTimeFormat = "Jan 02 15:04:05"

// TerminalHandler renders records as
//
//	[LVL] [Jan 02 15:04:05] message key=value ...
//
// optionally with ANSI colored level tags. Intended for interactive use; for
// machine consumption install a slog.JSONHandler instead.
type TerminalHandler struct {
	mu       sync.Mutex
	wr       io.Writer
	lvl      *slog.LevelVar
	useColor bool
	attrs    []slog.Attr
}

// NewTerminalHandler creates a handler writing to wr at the given level.
func NewTerminalHandler(wr io.Writer, lvl *slog.LevelVar, useColor bool) *TerminalHandler {
	return &TerminalHandler{wr: wr, lvl: lvl, useColor: useColor}
}

func (h *TerminalHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	return lvl >= h.lvl.Level()
}

func (h *TerminalHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 128)
	buf = h.appendLevel(buf, r.Level)
	buf = append(buf, " ["...)
	buf = r.Time.AppendFormat(buf, termTimeFormat)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)

	for _, attr := range h.attrs {
		buf = appendAttr(buf, attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		buf = appendAttr(buf, attr)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.wr.Write(buf)
	return err
}

func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TerminalHandler{wr: h.wr, lvl: h.lvl, useColor: h.useColor, attrs: merged}
}

func (h *TerminalHandler) WithGroup(string) slog.Handler { return h }

func (h *TerminalHandler) appendLevel(buf []byte, lvl slog.Level) []byte {
	tag, color := levelTag(lvl)
	if h.useColor && color != 0 {
		return fmt.Appendf(buf, "\x1b[%dm[%s]\x1b[0m", color, tag)
	}
	return fmt.Appendf(buf, "[%s]", tag)
}

func levelTag(lvl slog.Level) (string, int) {
	switch {
	case lvl <= LevelTrace:
		return "TRCE", 34
	case lvl <= LevelDebug:
		return "DBUG", 36
	case lvl <= LevelInfo:
		return "INFO", 32
	case lvl <= LevelWarn:
		return "WARN", 33
	case lvl < LevelCrit:
		return "EROR", 31
	default:
		return "CRIT", 35
	}
}

func appendAttr(buf []byte, attr slog.Attr) []byte {
	buf = append(buf, ' ')
	buf = append(buf, attr.Key...)
	buf = append(buf, '=')
	v := attr.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if needsQuote(s) {
			buf = strconv.AppendQuote(buf, s)
		} else {
			buf = append(buf, s...)
		}
	case slog.KindDuration:
		buf = append(buf, v.Duration().Round(time.Millisecond).String()...)
	default:
		buf = append(buf, v.String()...)
	}
	return buf
}

func needsQuote(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return true
		}
	}
	return false
}
