// Package engine resolves playback URLs for many tracks with a bounded
// worker pool, widening or narrowing the per-request delay according to the
// running success rate.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/xmfetch/config"
	"github.com/xeptore/xmfetch/ratelimit"
	"github.com/xeptore/xmfetch/ximalaya/crypto"
	"github.com/xeptore/xmfetch/ximalaya/types"
)

const (
	relaxAbove   = 0.8
	tightenBelow = 0.5
	relaxFactor  = 0.9
	tightenRatio = 1.5
	jitterSpread = 0.2
)

// Resolver is the slice of the URL resolver the engine drives: a cache
// lookup and a single unpaced network attempt that writes through on
// success.
type Resolver interface {
	Cached(ctx context.Context, trackID, albumID int64) (encrypted, decrypted string, ok bool)
	Once(ctx context.Context, trackID, albumID int64) (string, error)
}

type Policy struct {
	Concurrency int
	BaseDelay   time.Duration
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Concurrency: 3,
		BaseDelay:   2 * time.Second,
		MinDelay:    1 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

func PolicyFromConfig(conf config.Engine) Policy {
	return Policy{
		Concurrency: conf.Concurrency,
		BaseDelay:   conf.BaseDelay.Duration,
		MinDelay:    conf.MinDelay.Duration,
		MaxDelay:    conf.MaxDelay.Duration,
	}
}

// ProgressFunc receives a strictly increasing completed count.
type ProgressFunc func(completed, total int)

type Summary struct {
	Total      int
	Succeeded  int
	Failed     int
	CacheHits  int
	FinalDelay time.Duration
}

func (s Summary) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("total", s.Total).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("cache_hits", s.CacheHits).
		Dur("final_delay", s.FinalDelay)
}

type Engine struct {
	resolver Resolver
	decrypt  crypto.Decrypter
	policy   Policy
	logger   zerolog.Logger
}

func New(resolver Resolver, decrypt crypto.Decrypter, policy Policy, logger zerolog.Logger) *Engine {
	return &Engine{
		resolver: resolver,
		decrypt:  decrypt,
		policy:   policy,
		logger:   logger.With().Str("component", "engine").Logger(),
	}
}

// AdjustDelay applies one adaptive step for the given running counts.
func AdjustDelay(current time.Duration, successes, attempts int, p Policy) time.Duration {
	if attempts == 0 {
		return current
	}

	rate := float64(successes) / float64(attempts)
	switch {
	case rate > relaxAbove:
		return max(p.MinDelay, time.Duration(float64(current)*relaxFactor))
	case rate < tightenBelow:
		return min(p.MaxDelay, time.Duration(float64(current)*tightenRatio))
	default:
		return current
	}
}

type adaptive struct {
	mux       sync.Mutex
	policy    Policy
	current   time.Duration
	attempts  int
	successes int
}

func (a *adaptive) delay() time.Duration {
	a.mux.Lock()
	defer a.mux.Unlock()

	return a.current
}

func (a *adaptive) record(success bool) time.Duration {
	a.mux.Lock()
	defer a.mux.Unlock()

	a.attempts++
	if success {
		a.successes++
	}
	a.current = AdjustDelay(a.current, a.successes, a.attempts, a.policy)

	return a.current
}

type result struct {
	encrypted string
	decrypted string
	ok        bool
	cacheHit  bool
}

// ResolveMany fills in URL fields for the given tracks of one album. Tracks
// that cannot be resolved keep empty URL fields; the returned slice always
// has the input's length and order. No error is returned: a failure,
// including a risk-control block, only affects its own track.
func (e *Engine) ResolveMany(
	ctx context.Context,
	albumID int64,
	tracks []types.Track,
	progress ProgressFunc,
) ([]types.Track, Summary) {
	logger := e.logger.With().Int64("album_id", albumID).Int("tracks", len(tracks)).Logger()

	var (
		state = &adaptive{
			mux:       sync.Mutex{},
			policy:    e.policy,
			current:   e.policy.BaseDelay,
			attempts:  0,
			successes: 0,
		}
		resultsMux sync.Mutex
		results    = make(map[int64]result, len(tracks))
		progMux    sync.Mutex
		completed  int
		total      = len(tracks)
	)

	var wg errgroup.Group
	wg.SetLimit(max(e.policy.Concurrency, 1))
	for _, t := range tracks {
		wg.Go(func() error {
			res := e.resolveOne(ctx, logger, state, albumID, t.ID)

			resultsMux.Lock()
			results[t.ID] = res
			resultsMux.Unlock()

			progMux.Lock()
			completed++
			if nil != progress {
				progress(completed, total)
			}
			progMux.Unlock()

			return nil
		})
	}
	_ = wg.Wait()

	out := make([]types.Track, len(tracks))
	summary := Summary{Total: total} //nolint:exhaustruct
	for i, t := range tracks {
		res := results[t.ID]
		if res.ok {
			t.EncryptedURL = res.encrypted
			t.URL = res.decrypted
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		if res.cacheHit {
			summary.CacheHits++
		}
		out[i] = t
	}
	summary.FinalDelay = state.delay()

	logger.Info().Dict("summary", summary.ToDict()).Msg("Finished resolving tracks")

	return out, summary
}

func (e *Engine) resolveOne(
	ctx context.Context,
	logger zerolog.Logger,
	state *adaptive,
	albumID, trackID int64,
) result {
	logger = logger.With().Int64("track_id", trackID).Logger()

	if encrypted, decrypted, ok := e.resolver.Cached(ctx, trackID, albumID); ok {
		res := result{encrypted: encrypted, decrypted: decrypted, ok: true, cacheHit: true}
		if len(decrypted) == 0 {
			res = e.finish(logger, encrypted)
			res.cacheHit = true
		}
		state.record(res.ok)

		return res
	}

	wait := ratelimit.Around(state.delay(), jitterSpread).Draw()
	if err := ratelimit.Sleep(ctx, wait); nil != err {
		logger.Warn().Err(err).Msg("Canceled before resolving track")
		state.record(false)

		return result{} //nolint:exhaustruct
	}

	encrypted, err := e.resolver.Once(ctx, trackID, albumID)
	if nil != err {
		d := state.record(false)
		logger.Warn().Err(err).Dur("delay", d).Msg("Failed to resolve track")

		return result{} //nolint:exhaustruct
	}

	if len(encrypted) == 0 {
		d := state.record(false)
		logger.Warn().Dur("delay", d).Msg("Track has no playable URL")

		return result{} //nolint:exhaustruct
	}

	res := e.finish(logger, encrypted)
	d := state.record(res.ok)
	logger.Debug().Bool("ok", res.ok).Dur("delay", d).Msg("Resolved track")

	return res
}

func (e *Engine) finish(logger zerolog.Logger, encrypted string) result {
	decrypted, err := e.decrypt(encrypted)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to decrypt playback URL")
		return result{} //nolint:exhaustruct
	}

	return result{
		encrypted: encrypted,
		decrypted: decrypted,
		ok:        true,
		cacheHit:  false,
	}
}
