// Package fetcher reads album listing pages in either of two modes: fast
// (summaries only, page-cached) or full (every track resolved in order).
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/xeptore/xmfetch/config"
	"github.com/xeptore/xmfetch/ratelimit"
	"github.com/xeptore/xmfetch/store"
	"github.com/xeptore/xmfetch/ximalaya/api"
	"github.com/xeptore/xmfetch/ximalaya/crypto"
	"github.com/xeptore/xmfetch/ximalaya/resolver"
	"github.com/xeptore/xmfetch/ximalaya/types"
)

const coverBaseURL = "https://imagev2.xmcdn.com/"

var ErrInvalidPage = errors.New("invalid page request")

// Cache is the slice of the store the fetcher reads and writes.
type Cache interface {
	GetPage(albumID int64, page, pageSize int) (*store.CachedAlbumPage, bool)
	PutPage(albumID int64, page, pageSize, totalCount int, tracks []types.TrackSummary)
	TracksStatus(trackIDs []int64, albumID int64) map[int64]store.TrackStatus
}

type TrackResolver interface {
	Resolve(ctx context.Context, trackID, albumID int64, useCache bool) (string, error)
}

type Policy struct {
	MaxAttempts int
	FastPacing  ratelimit.Window
	FullPacing  ratelimit.Window
	FastBackoff ratelimit.Window
	FullBackoff ratelimit.Window
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 2,
		FastPacing:  ratelimit.Window{Min: 500 * time.Millisecond, Max: 1500 * time.Millisecond},
		FullPacing:  ratelimit.Window{Min: 1 * time.Second, Max: 3 * time.Second},
		FastBackoff: ratelimit.Window{Min: 5 * time.Second, Max: 10 * time.Second},
		FullBackoff: ratelimit.Window{Min: 10 * time.Second, Max: 20 * time.Second},
	}
}

func PolicyFromConfig(conf config.Fetcher) Policy {
	return Policy{
		MaxAttempts: conf.MaxAttempts,
		FastPacing:  conf.FastPacing.Window(),
		FullPacing:  conf.FullPacing.Window(),
		FastBackoff: conf.FastBackoff.Window(),
		FullBackoff: conf.FullBackoff.Window(),
	}
}

func (p Policy) pacing(mode types.Mode) ratelimit.Window {
	if mode == types.ModeFull {
		return p.FullPacing
	}

	return p.FastPacing
}

func (p Policy) backoff(mode types.Mode) ratelimit.Window {
	if mode == types.ModeFull {
		return p.FullBackoff
	}

	return p.FastBackoff
}

type Fetcher struct {
	api      api.AlbumAPI
	cache    Cache
	resolver TrackResolver
	decrypt  crypto.Decrypter
	policy   Policy
	logger   zerolog.Logger
}

func New(
	albumAPI api.AlbumAPI,
	cache Cache,
	trackResolver TrackResolver,
	decrypt crypto.Decrypter,
	policy Policy,
	logger zerolog.Logger,
) *Fetcher {
	return &Fetcher{
		api:      albumAPI,
		cache:    cache,
		resolver: trackResolver,
		decrypt:  decrypt,
		policy:   policy,
		logger:   logger.With().Str("component", "fetcher").Logger(),
	}
}

// FetchPage returns one listing page in listing order. In full mode a
// resolver failure, a block included, aborts the page and is returned.
// Exhausted listing retries yield an empty page and a nil error.
func (f *Fetcher) FetchPage(ctx context.Context, albumID int64, page, pageSize int, mode types.Mode) ([]types.Track, error) {
	res, err := f.fetchPage(ctx, albumID, page, pageSize, mode)
	if nil != err {
		return nil, err
	}

	return res.tracks, nil
}

// pageResult keeps the listing's own size next to the returned tracks; in
// full mode the two differ when tracks without a playable URL are skipped.
type pageResult struct {
	tracks     []types.Track
	listed     int
	totalCount int
}

func (f *Fetcher) fetchPage(ctx context.Context, albumID int64, page, pageSize int, mode types.Mode) (pageResult, error) {
	if err := validatePage(page, pageSize); nil != err {
		return pageResult{}, err //nolint:exhaustruct
	}

	switch mode {
	case types.ModeFast:
		return f.fast(ctx, albumID, page, pageSize)
	case types.ModeFull:
		return f.full(ctx, albumID, page, pageSize)
	default:
		return pageResult{}, fmt.Errorf("unsupported fetch mode %d", mode) //nolint:exhaustruct
	}
}

func validatePage(page, pageSize int) error {
	if page < 1 {
		return fmt.Errorf("%w: page must be at least 1, got: %d", ErrInvalidPage, page)
	}

	if pageSize < 1 {
		return fmt.Errorf("%w: page size must be at least 1, got: %d", ErrInvalidPage, pageSize)
	}

	return nil
}

func (f *Fetcher) fast(ctx context.Context, albumID int64, page, pageSize int) (pageResult, error) {
	logger := f.logger.With().Int64("album_id", albumID).Int("page", page).Int("page_size", pageSize).Logger()

	var (
		summaries  []types.TrackSummary
		totalCount int
	)
	if cached, ok := f.cache.GetPage(albumID, page, pageSize); ok {
		logger.Debug().Int("tracks", len(cached.Tracks)).Msg("Serving page from cache")
		summaries, totalCount = cached.Tracks, cached.TotalCount
	} else {
		listing, err := f.listing(ctx, logger, albumID, page, pageSize, types.ModeFast)
		if nil != err {
			return pageResult{}, err //nolint:exhaustruct
		}
		if nil == listing {
			return pageResult{tracks: []types.Track{}, listed: 0, totalCount: 0}, nil
		}

		summaries = make([]types.TrackSummary, 0, len(listing.Tracks))
		for _, s := range listing.Tracks {
			s.Cover = NormalizeCover(s.Cover)
			summaries = append(summaries, s)
		}
		totalCount = listing.TotalCount
		f.cache.PutPage(albumID, page, pageSize, totalCount, summaries)
	}

	tracks := make([]types.Track, 0, len(summaries))
	ids := make([]int64, 0, len(summaries))
	for _, s := range summaries {
		tracks = append(tracks, s.Track(page, pageSize, totalCount))
		ids = append(ids, s.ID)
	}

	status := f.cache.TracksStatus(ids, albumID)
	for i := range tracks {
		if st, ok := status[tracks[i].ID]; ok {
			tracks[i].EncryptedURL = st.EncryptedURL
			tracks[i].URL = st.DecryptedURL
		}
	}

	logger.Info().Int("tracks", len(tracks)).Int("cached_urls", len(status)).Msg("Fetched page")

	return pageResult{tracks: tracks, listed: len(summaries), totalCount: totalCount}, nil
}

func (f *Fetcher) full(ctx context.Context, albumID int64, page, pageSize int) (pageResult, error) {
	logger := f.logger.With().Int64("album_id", albumID).Int("page", page).Int("page_size", pageSize).Logger()

	listing, err := f.listing(ctx, logger, albumID, page, pageSize, types.ModeFull)
	if nil != err {
		return pageResult{}, err //nolint:exhaustruct
	}
	if nil == listing {
		return pageResult{tracks: []types.Track{}, listed: 0, totalCount: 0}, nil
	}

	tracks := make([]types.Track, 0, len(listing.Tracks))
	for i, s := range listing.Tracks {
		logger := logger.With().Int64("track_id", s.ID).Int("position", (page-1)*pageSize+i+1).Logger()

		encrypted, err := f.resolver.Resolve(ctx, s.ID, albumID, true)
		if nil != err {
			if errors.Is(err, resolver.ErrBlocked) {
				logger.Error().Err(err).Msg("Risk control aborted page fetch")
			}
			return pageResult{}, fmt.Errorf("failed to resolve track %d: %w", s.ID, err) //nolint:exhaustruct
		}

		if len(encrypted) == 0 {
			logger.Warn().Str("title", s.Title).Msg("Skipping track without playable URL")
			continue
		}

		decrypted, err := f.decrypt(encrypted)
		if nil != err {
			return pageResult{}, fmt.Errorf("failed to decrypt track %d URL: %w", s.ID, err) //nolint:exhaustruct
		}

		s.Cover = NormalizeCover(s.Cover)
		t := s.Track(page, pageSize, listing.TotalCount)
		t.EncryptedURL = encrypted
		t.URL = decrypted
		tracks = append(tracks, t)
	}

	logger.Info().Int("tracks", len(tracks)).Int("listed", len(listing.Tracks)).Msg("Fetched and resolved page")

	return pageResult{tracks: tracks, listed: len(listing.Tracks), totalCount: listing.TotalCount}, nil
}

// listing returns nil with a nil error once retries are exhausted.
func (f *Fetcher) listing(
	ctx context.Context,
	logger zerolog.Logger,
	albumID int64,
	page, pageSize int,
	mode types.Mode,
) (*api.AlbumPage, error) {
	pace := f.policy.pacing(mode).Draw()
	logger.Debug().Dur("delay", pace).Str("mode", mode.String()).Msg("Pacing before listing request")
	if err := ratelimit.Sleep(ctx, pace); nil != err {
		return nil, fmt.Errorf("failed to wait before listing request: %w", err)
	}

	window := f.policy.backoff(mode)
	b := retry.WithMaxRetries(
		uint64(max(f.policy.MaxAttempts-1, 0)), //nolint:gosec
		retry.BackoffFunc(func() (time.Duration, bool) { return window.Draw(), false }),
	)

	var (
		out     *api.AlbumPage
		attempt int
	)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		res, err := f.api.AlbumTracks(ctx, albumID, page, pageSize)
		if nil != err {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			logger.Warn().Err(err).Int("attempt", attempt).Msg("Listing request failed")

			return retry.RetryableError(err)
		}
		out = res

		return nil
	})
	if nil != err {
		if ctxErr := ctx.Err(); nil != ctxErr {
			return nil, fmt.Errorf("listing request canceled: %w", ctxErr)
		}

		logger.Error().Err(err).Int("attempts", attempt).Msg("Giving up on listing page")

		return nil, nil //nolint:nilnil
	}

	return out, nil
}

// NormalizeCover qualifies a relative cover path against the image CDN.
func NormalizeCover(cover string) string {
	if len(cover) == 0 || strings.HasPrefix(cover, "http://") || strings.HasPrefix(cover, "https://") {
		return cover
	}

	return coverBaseURL + strings.TrimPrefix(cover, "/")
}
