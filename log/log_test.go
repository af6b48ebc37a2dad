// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTerminalHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	var lvl slog.LevelVar
	h := NewTerminalHandler(&buf, &lvl, false)
	logger := slog.New(h).With("pkg", "testpkg")

	logger.Info("hello", "count", 3, "took", 1500*time.Millisecond, "note", "two words")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "[INFO]"), out)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "pkg=testpkg")
	assert.Contains(t, out, "count=3")
	assert.Contains(t, out, "took=1.5s")
	assert.Contains(t, out, `note="two words"`)
}

func TestVerbosityMapping(t *testing.T) {
	defer SetVerbosity(3)

	SetVerbosity(1)
	assert.Equal(t, LevelError, Level().Level())
	SetVerbosity(5)
	assert.Equal(t, LevelTrace, Level().Level())
	SetVerbosity(0)
	assert.Equal(t, LevelCrit, Level().Level())
}

func TestWithContextFollowsHandlerSwap(t *testing.T) {
	logger := WithContext("pkg", "swaptest")

	var buf bytes.Buffer
	var lvl slog.LevelVar
	old := Root().Handler()
	SetRootHandler(NewTerminalHandler(&buf, &lvl, false))
	defer SetRootHandler(old)

	logger.Info("after swap")
	assert.Contains(t, buf.String(), "pkg=swaptest")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	var lvl slog.LevelVar
	lvl.Set(LevelWarn)
	logger := slog.New(NewTerminalHandler(&buf, &lvl, false))

	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}
