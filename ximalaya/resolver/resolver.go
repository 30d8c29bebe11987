// Package resolver turns a (track, album) pair into the track's encrypted
// playback URL, reading through and writing back to the durable cache.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/xeptore/xmfetch/ratelimit"
	"github.com/xeptore/xmfetch/store"
	"github.com/xeptore/xmfetch/ximalaya/api"
	"github.com/xeptore/xmfetch/ximalaya/crypto"
)

// ErrBlocked means the service kept answering with its risk-control signal
// until attempts ran out. Enclosing loops must not retry it.
var ErrBlocked = errors.New("blocked by risk control")

// Cache is the slice of the store the resolver reads and writes.
type Cache interface {
	GetTrack(ctx context.Context, trackID, albumID int64) (*store.CachedTrackURL, bool)
	PutTrack(ctx context.Context, e store.TrackEntry)
}

type Resolver struct {
	api     api.TrackAPI
	cache   Cache
	decrypt crypto.Decrypter
	policy  Policy
	logger  zerolog.Logger
}

func New(trackAPI api.TrackAPI, cache Cache, decrypt crypto.Decrypter, policy Policy, logger zerolog.Logger) *Resolver {
	return &Resolver{
		api:     trackAPI,
		cache:   cache,
		decrypt: decrypt,
		policy:  policy,
		logger:  logger.With().Str("component", "resolver").Logger(),
	}
}

// Cached returns both URLs of a valid cache record, if any. decrypted is
// empty when the record was stored without one.
func (r *Resolver) Cached(ctx context.Context, trackID, albumID int64) (encrypted, decrypted string, ok bool) {
	rec, ok := r.cache.GetTrack(ctx, trackID, albumID)
	if !ok || len(rec.EncryptedURL) == 0 {
		return "", "", false
	}

	return rec.EncryptedURL, rec.DecryptedURL, true
}

// Resolve returns the track's encrypted playback URL. An empty string with a
// nil error means the service answered but listed no playable URL.
func (r *Resolver) Resolve(ctx context.Context, trackID, albumID int64, useCache bool) (string, error) {
	logger := r.logger.With().Int64("track_id", trackID).Int64("album_id", albumID).Logger()

	if useCache {
		if u, _, ok := r.Cached(ctx, trackID, albumID); ok {
			logger.Debug().Msg("Resolved track from cache")
			return u, nil
		}
	}

	pace := r.policy.Pacing.Draw()
	logger.Debug().Dur("delay", pace).Msg("Pacing before track info request")
	if err := ratelimit.Sleep(ctx, pace); nil != err {
		return "", fmt.Errorf("failed to wait before track info request: %w", err)
	}

	var (
		m      = NewMachine(r.policy)
		result string
	)
	err := retry.Do(ctx, m, func(ctx context.Context) error {
		m.Begin()
		logger := logger.With().Int("attempt", m.Attempt()).Logger()

		u, err := r.Once(ctx, trackID, albumID)
		if nil != err {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			if errors.Is(err, api.ErrRiskControl) {
				m.Fail(OutcomeBlocked)
				logger.Warn().Bool("final", m.Final()).Msg("Track info request hit risk control")

				return retry.RetryableError(fmt.Errorf("%w: %w", ErrBlocked, err))
			}

			m.Fail(OutcomeTransport)
			logger.Warn().Err(err).Bool("final", m.Final()).Msg("Track info request failed")

			return retry.RetryableError(err)
		}

		m.Succeed()
		result = u

		return nil
	})
	if nil != err {
		logger.Error().Err(err).Str("state", m.State().String()).Int("attempts", m.Attempt()).Msg("Failed to resolve track")
		return "", err
	}

	return result, nil
}

// Once performs a single unpaced track info request. A playable URL is
// decrypted and written through to the cache; failures of either step are
// logged and do not affect the returned URL.
func (r *Resolver) Once(ctx context.Context, trackID, albumID int64) (string, error) {
	logger := r.logger.With().Int64("track_id", trackID).Int64("album_id", albumID).Logger()

	info, err := r.api.TrackInfo(ctx, albumID, trackID)
	if nil != err {
		return "", err
	}

	if len(info.EncryptedURL) == 0 {
		logger.Warn().Msg("Track info has no playable URL")
		return "", nil
	}

	decrypted, err := r.decrypt(info.EncryptedURL)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to decrypt playback URL, skipping cache write")
		return info.EncryptedURL, nil
	}

	r.cache.PutTrack(ctx, store.TrackEntry{
		TrackID:      trackID,
		AlbumID:      albumID,
		Title:        info.Title,
		Duration:     info.Duration,
		EncryptedURL: info.EncryptedURL,
		DecryptedURL: decrypted,
		FileSize:     nil,
		Extra:        nil,
	})
	logger.Debug().Int("crypted_url_len", len(info.EncryptedURL)).Msg("Resolved track from network")

	return info.EncryptedURL, nil
}

var _ retry.Backoff = (*Machine)(nil)
