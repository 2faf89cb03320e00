package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNowIsUTC(t *testing.T) {
	t.Parallel()

	got := New().Now()
	require.Equal(t, time.UTC, got.Location())
	require.WithinDuration(t, time.Now(), got, time.Second)
}

func TestAfterWaitsForDuration(t *testing.T) {
	t.Parallel()

	start := time.Now()
	select {
	case fired := <-New().After(10 * time.Millisecond):
		require.GreaterOrEqual(t, fired.Sub(start), 10*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}
