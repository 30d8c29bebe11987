package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/xmfetch/ximalaya/engine"
	"github.com/xeptore/xmfetch/ximalaya/types"
)

type fakeResolver struct {
	mux    sync.Mutex
	cached map[int64]bool
	bare   map[int64]bool
	failed map[int64]bool
	calls  map[int64]int
}

func newFakeResolver(cached, failed []int64) *fakeResolver {
	r := &fakeResolver{
		mux:    sync.Mutex{},
		cached: make(map[int64]bool),
		bare:   make(map[int64]bool),
		failed: make(map[int64]bool),
		calls:  make(map[int64]int),
	}
	for _, id := range cached {
		r.cached[id] = true
	}
	for _, id := range failed {
		r.failed[id] = true
	}

	return r
}

func (r *fakeResolver) Cached(_ context.Context, trackID, _ int64) (string, string, bool) {
	r.mux.Lock()
	defer r.mux.Unlock()

	if r.cached[trackID] {
		if r.bare[trackID] {
			return fmt.Sprintf("c%d", trackID), "", true
		}

		return fmt.Sprintf("c%d", trackID), fmt.Sprintf("stored:c%d", trackID), true
	}

	return "", "", false
}

func (r *fakeResolver) Once(_ context.Context, trackID, _ int64) (string, error) {
	r.mux.Lock()
	defer r.mux.Unlock()

	r.calls[trackID]++
	if r.failed[trackID] {
		return "", errors.New("boom")
	}

	return fmt.Sprintf("e%d", trackID), nil
}

func (r *fakeResolver) Calls(trackID int64) int {
	r.mux.Lock()
	defer r.mux.Unlock()

	return r.calls[trackID]
}

func plainDecrypt(s string) (string, error) {
	return "plain:" + s, nil
}

func testPolicy(concurrency int) engine.Policy {
	return engine.Policy{
		Concurrency: concurrency,
		BaseDelay:   2 * time.Millisecond,
		MinDelay:    1 * time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
	}
}

func tracksOf(n int) []types.Track {
	out := make([]types.Track, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, types.Track{ID: int64(i), Title: fmt.Sprintf("t%d", i)}) //nolint:exhaustruct
	}

	return out
}

func TestAdjustDelayThresholds(t *testing.T) {
	t.Parallel()

	p := engine.DefaultPolicy()
	tests := []struct {
		name      string
		current   time.Duration
		successes int
		attempts  int
		expected  time.Duration
	}{
		{name: "0.7 keeps delay", current: 2 * time.Second, successes: 7, attempts: 10, expected: 2 * time.Second},
		{name: "0.8 is not above the relax threshold", current: 2 * time.Second, successes: 8, attempts: 10, expected: 2 * time.Second},
		{name: "0.9 relaxes", current: 2 * time.Second, successes: 9, attempts: 10, expected: 1800 * time.Millisecond},
		{name: "0.5 keeps delay", current: 2 * time.Second, successes: 5, attempts: 10, expected: 2 * time.Second},
		{name: "0.4 tightens", current: 2 * time.Second, successes: 4, attempts: 10, expected: 3 * time.Second},
		{name: "relax floors at min", current: 1050 * time.Millisecond, successes: 1, attempts: 1, expected: time.Second},
		{name: "tighten caps at max", current: 8 * time.Second, successes: 0, attempts: 1, expected: 10 * time.Second},
		{name: "no attempts", current: 2 * time.Second, successes: 0, attempts: 0, expected: 2 * time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := engine.AdjustDelay(tc.current, tc.successes, tc.attempts, p)
			assert.InDelta(t, float64(tc.expected), float64(got), float64(time.Microsecond))
		})
	}
}

func TestResolveManyEightOfTenRelaxes(t *testing.T) {
	t.Parallel()

	r := newFakeResolver(nil, []int64{3, 7})
	e := engine.New(r, plainDecrypt, testPolicy(1), zerolog.Nop())

	out, summary := e.ResolveMany(context.Background(), 42, tracksOf(10), nil)
	assert.Equal(t, 8, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.LessOrEqual(t, summary.FinalDelay, 2*time.Millisecond)

	require.Len(t, out, 10)
	for i, tr := range out {
		assert.Equal(t, int64(i+1), tr.ID)
		if tr.ID == 3 || tr.ID == 7 {
			assert.Empty(t, tr.URL)
			assert.Empty(t, tr.EncryptedURL)
			continue
		}
		assert.Equal(t, fmt.Sprintf("e%d", tr.ID), tr.EncryptedURL)
		assert.Equal(t, fmt.Sprintf("plain:e%d", tr.ID), tr.URL)
	}
}

func TestResolveManySevenOfTenWithEarlyFailuresTightens(t *testing.T) {
	t.Parallel()

	r := newFakeResolver(nil, []int64{1, 2, 3})
	e := engine.New(r, plainDecrypt, testPolicy(1), zerolog.Nop())

	_, summary := e.ResolveMany(context.Background(), 42, tracksOf(10), nil)
	assert.Equal(t, 7, summary.Succeeded)
	assert.Greater(t, summary.FinalDelay, 2*time.Millisecond)
	assert.LessOrEqual(t, summary.FinalDelay, 10*time.Millisecond)
}

func TestResolveManyCacheHitsSkipNetwork(t *testing.T) {
	t.Parallel()

	r := newFakeResolver([]int64{2, 4}, nil)
	e := engine.New(r, plainDecrypt, testPolicy(2), zerolog.Nop())

	out, summary := e.ResolveMany(context.Background(), 42, tracksOf(5), nil)
	assert.Equal(t, 5, summary.Succeeded)
	assert.Equal(t, 2, summary.CacheHits)
	assert.Zero(t, r.Calls(2))
	assert.Zero(t, r.Calls(4))
	assert.Equal(t, 1, r.Calls(1))
	assert.Equal(t, "c2", out[1].EncryptedURL)
	assert.Equal(t, "stored:c2", out[1].URL)
	assert.Equal(t, "plain:e3", out[2].URL)
}

func TestResolveManyCacheHitUsesStoredURL(t *testing.T) {
	t.Parallel()

	r := newFakeResolver([]int64{1, 2}, nil)
	r.bare[2] = true
	broken := func(s string) (string, error) {
		if s == "c2" {
			return "plain:" + s, nil
		}
		return "", errors.New("bad cipher")
	}
	e := engine.New(r, broken, testPolicy(1), zerolog.Nop())

	out, summary := e.ResolveMany(context.Background(), 42, tracksOf(2), nil)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 2, summary.CacheHits)
	assert.Equal(t, "stored:c1", out[0].URL, "stored URL is served without decrypting")
	assert.Equal(t, "plain:c2", out[1].URL, "records without a stored URL are decrypted")
}

func TestResolveManyProgressIsMonotonic(t *testing.T) {
	t.Parallel()

	r := newFakeResolver([]int64{5, 6, 7}, []int64{11, 12})
	e := engine.New(r, plainDecrypt, testPolicy(3), zerolog.Nop())

	var (
		mux  sync.Mutex
		seen []int
	)
	out, summary := e.ResolveMany(context.Background(), 42, tracksOf(20), func(completed, total int) {
		mux.Lock()
		defer mux.Unlock()

		assert.Equal(t, 20, total)
		seen = append(seen, completed)
	})

	require.Len(t, seen, 20)
	for i, c := range seen {
		assert.Equal(t, i+1, c)
	}
	assert.Equal(t, 18, summary.Succeeded)
	for i, tr := range out {
		assert.Equal(t, int64(i+1), tr.ID, "results keep input order")
	}
}

func TestResolveManyDecryptFailureIsTrackFailure(t *testing.T) {
	t.Parallel()

	r := newFakeResolver(nil, nil)
	failing := func(s string) (string, error) {
		if s == "e2" {
			return "", errors.New("bad cipher")
		}
		return "plain:" + s, nil
	}
	e := engine.New(r, failing, testPolicy(1), zerolog.Nop())

	out, summary := e.ResolveMany(context.Background(), 42, tracksOf(3), nil)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Empty(t, out[1].URL)
}

func TestResolveManyEmpty(t *testing.T) {
	t.Parallel()

	e := engine.New(newFakeResolver(nil, nil), plainDecrypt, testPolicy(3), zerolog.Nop())

	out, summary := e.ResolveMany(context.Background(), 42, nil, nil)
	assert.Empty(t, out)
	assert.Zero(t, summary.Total)
	assert.Equal(t, 2*time.Millisecond, summary.FinalDelay)
}
