// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package retry

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker("rpc", 3, time.Minute)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		assert.Equal(t, "closed", b.State(), "still closed before threshold")
		_, err := b.Execute(func() (any, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", b.State())

	called := false
	_, err := b.Execute(func() (any, error) { called = true; return nil, nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "open breaker must not invoke the callable")
}

func TestBreakerRecoversAfterTimeout(t *testing.T) {
	b := NewBreaker("rpc", 1, 20*time.Millisecond)
	_, err := b.Execute(func() (any, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	require.Equal(t, "open", b.State())

	time.Sleep(30 * time.Millisecond)

	// single probing call closes it again on success
	v, err := b.Execute(func() (any, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, "closed", b.State())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := NewBreaker("rpc", 1, 20*time.Millisecond)
	b.Execute(func() (any, error) { return nil, errors.New("boom") }) //nolint:errcheck
	time.Sleep(30 * time.Millisecond)

	_, err := b.Execute(func() (any, error) { return nil, errors.New("still broken") })
	require.Error(t, err)
	assert.Equal(t, "open", b.State())
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker("rpc", 2, time.Minute)
	boom := errors.New("boom")

	b.Execute(func() (any, error) { return nil, boom }) //nolint:errcheck
	b.Execute(func() (any, error) { return nil, nil })  //nolint:errcheck
	b.Execute(func() (any, error) { return nil, boom }) //nolint:errcheck
	assert.Equal(t, "closed", b.State(), "non-consecutive failures do not trip")
}
