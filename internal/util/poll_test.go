package util

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollUntil(t *testing.T) {
	t.Parallel()

	t.Run("succeeds once condition holds", func(t *testing.T) {
		t.Parallel()
		var n atomic.Int32
		err := PollUntil(context.Background(), PollConfig{Timeout: time.Second, Interval: time.Millisecond}, func() bool {
			return n.Add(1) >= 3
		})
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, n.Load(), int32(3))
	})

	t.Run("times out", func(t *testing.T) {
		t.Parallel()
		err := PollUntil(context.Background(), PollConfig{Timeout: 20 * time.Millisecond, Interval: time.Millisecond}, func() bool {
			return false
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestPollConfigDefaults(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultPollConfig(), PollConfig{}.withDefaults())
	assert.Equal(t, StartupPollConfig(), StartupPollConfig().withDefaults())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, PollUntil(ctx, PollConfig{}, func() bool { return false }), context.Canceled)
}

func TestIsProcessRunning(t *testing.T) {
	t.Parallel()
	assert.False(t, IsProcessRunning(0))
	assert.False(t, IsProcessRunning(-1))
	assert.True(t, IsProcessRunning(os.Getpid()))
}

func TestStartDaemonIfNeeded_AlreadyRunning(t *testing.T) {
	cfg := DefaultDaemonStartConfig("daemon", "start")
	assert.Equal(t, []string{"daemon", "start"}, cfg.Args)
	assert.NoError(t, StartDaemonIfNeeded(context.Background(), cfg, func() bool { return true }))
}
