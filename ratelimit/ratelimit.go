package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Window is an inclusive range a random wait is drawn from.
type Window struct {
	Min time.Duration
	Max time.Duration
}

// Around returns the window [d*(1-spread), d*(1+spread)].
func Around(d time.Duration, spread float64) Window {
	return Window{
		Min: time.Duration(float64(d) * (1 - spread)),
		Max: time.Duration(float64(d) * (1 + spread)),
	}
}

// Draw returns a uniformly distributed duration within the window.
func (w Window) Draw() time.Duration {
	return Uniform(w.Min, w.Max)
}

func Uniform(from, to time.Duration) time.Duration {
	if to <= from {
		return from
	}

	return from + time.Duration(rand.Int64N(int64(to-from)+1)) //nolint:gosec
}

// Sleep blocks for d or until ctx is done, whichever happens first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewRequestLimiter allows one request per interval with no burst.
func NewRequestLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}

	return rate.NewLimiter(rate.Every(interval), 1)
}
