package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/xmfetch/ratelimit"
)

func TestWindowDraw(t *testing.T) {
	t.Parallel()

	w := ratelimit.Window{Min: 2 * time.Second, Max: 5 * time.Second}
	for range 100 {
		d := w.Draw()
		if d < 2*time.Second || d > 5*time.Second {
			t.Errorf("expected 2s <= d <= 5s, got %s", d)
		}
	}
}

func TestUniformDegenerate(t *testing.T) {
	t.Parallel()

	assert.Exactly(t, time.Second, ratelimit.Uniform(time.Second, time.Second))
	assert.Exactly(t, 3*time.Second, ratelimit.Uniform(3*time.Second, time.Second))
}

func TestAround(t *testing.T) {
	t.Parallel()

	w := ratelimit.Around(2*time.Second, 0.2)
	assert.Exactly(t, 1600*time.Millisecond, w.Min)
	assert.Exactly(t, 2400*time.Millisecond, w.Max)
}

func TestSleepCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := ratelimit.Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRequestLimiter(t *testing.T) {
	t.Parallel()

	l := ratelimit.NewRequestLimiter(0)
	for range 10 {
		require.NoError(t, l.Wait(context.Background()))
	}
}
