package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_PeriodicallyInvokesStoreSweep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GCEligibleAge = 0
	cfg.GCMinSupport = 2
	store := NewMemStore(cfg)
	require.NoError(t, store.Observe(context.Background(), "ua:swept-by-sweeper", 0.5))

	sweeper := NewSweeper(store, 5*time.Millisecond)
	sweeper.Start()
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		_, found, _ := store.Get(context.Background(), "ua:swept-by-sweeper")
		return !found
	}, time.Second, 5*time.Millisecond, "the ticker loop should eventually sweep the stale record")
}

func TestSweeper_ZeroIntervalDefaultsToTenMinutes(t *testing.T) {
	sweeper := NewSweeper(NewMemStore(DefaultConfig()), 0)
	assert.Equal(t, 10*time.Minute, sweeper.interval)
}
