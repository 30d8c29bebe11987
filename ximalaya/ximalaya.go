// Package ximalaya wires the resolution pipeline together and is the entry
// point for collaborators such as the CLI or a downloader.
package ximalaya

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/xeptore/xmfetch/cache"
	"github.com/xeptore/xmfetch/config"
	"github.com/xeptore/xmfetch/store"
	"github.com/xeptore/xmfetch/ximalaya/api"
	"github.com/xeptore/xmfetch/ximalaya/crypto"
	"github.com/xeptore/xmfetch/ximalaya/engine"
	"github.com/xeptore/xmfetch/ximalaya/fetcher"
	"github.com/xeptore/xmfetch/ximalaya/resolver"
	"github.com/xeptore/xmfetch/ximalaya/types"
)

var (
	ErrBlocked     = resolver.ErrBlocked
	ErrRiskControl = api.ErrRiskControl
	ErrInvalidPage = fetcher.ErrInvalidPage
)

type Client struct {
	store    *store.Store
	cache    *cache.Cache
	resolver *resolver.Resolver
	fetcher  *fetcher.Fetcher
	engine   *engine.Engine
	decrypt  crypto.Decrypter
	logger   zerolog.Logger
}

type options struct {
	api   []api.Option
	store []store.Option
}

type Option func(*options)

func WithAPIOptions(opts ...api.Option) Option {
	return func(o *options) { o.api = append(o.api, opts...) }
}

func WithStoreOptions(opts ...store.Option) Option {
	return func(o *options) { o.store = append(o.store, opts...) }
}

// NewClient opens the store at conf.Store.Path. The client owns it; Close
// releases it.
func NewClient(logger zerolog.Logger, conf *config.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	apiClient, err := api.New(conf.API, logger, o.api...)
	if nil != err {
		return nil, fmt.Errorf("failed to create api client: %v", err)
	}

	storeOpts := append(
		[]store.Option{
			store.WithPolicy(store.PolicyFromConfig(conf.Store)),
			store.WithProber(store.NewHTTPProber(conf.Store.ProbeTimeout.Duration)),
		},
		o.store...,
	)
	s, err := store.Open(conf.Store.Path, logger, storeOpts...)
	if nil != err {
		return nil, fmt.Errorf("failed to open store: %v", err)
	}

	var (
		c       = cache.New()
		decrypt = crypto.Memoize(crypto.Decrypt, c, cache.DefaultDecryptedURLTTL)
		r       = resolver.New(apiClient, s, decrypt, resolver.PolicyFromConfig(conf.Resolver), logger)
		f       = fetcher.New(apiClient, s, r, decrypt, fetcher.PolicyFromConfig(conf.Fetcher), logger)
		e       = engine.New(r, decrypt, engine.PolicyFromConfig(conf.Engine), logger)
	)

	return &Client{
		store:    s,
		cache:    c,
		resolver: r,
		fetcher:  f,
		engine:   e,
		decrypt:  decrypt,
		logger:   logger,
	}, nil
}

func (c *Client) Close() error {
	c.cache.Stop()

	return c.store.Close()
}

// Resolve returns the encrypted playback URL of one track.
func (c *Client) Resolve(ctx context.Context, trackID, albumID int64, useCache bool) (string, error) {
	return c.resolver.Resolve(ctx, trackID, albumID, useCache)
}

// ResolveTrack resolves one track and decrypts its URL. An empty result
// means the service lists no playable URL for it.
func (c *Client) ResolveTrack(ctx context.Context, trackID, albumID int64, useCache bool) (encrypted, decrypted string, err error) {
	encrypted, err = c.resolver.Resolve(ctx, trackID, albumID, useCache)
	if nil != err {
		return "", "", err
	}

	if len(encrypted) == 0 {
		return "", "", nil
	}

	decrypted, err = c.decrypt(encrypted)
	if nil != err {
		return "", "", fmt.Errorf("failed to decrypt track URL: %w", err)
	}

	return encrypted, decrypted, nil
}

func (c *Client) FetchPage(ctx context.Context, albumID int64, page, pageSize int, mode types.Mode) ([]types.Track, error) {
	return c.fetcher.FetchPage(ctx, albumID, page, pageSize, mode)
}

func (c *Client) FetchAll(
	ctx context.Context,
	albumID int64,
	pageSize int,
	mode types.Mode,
	onPage fetcher.PageFunc,
) ([]types.Track, error) {
	return c.fetcher.FetchAll(ctx, albumID, pageSize, mode, onPage)
}

func (c *Client) ResolveMany(
	ctx context.Context,
	albumID int64,
	tracks []types.Track,
	progress engine.ProgressFunc,
) ([]types.Track, engine.Summary) {
	return c.engine.ResolveMany(ctx, albumID, tracks, progress)
}

// ResolveAlbum lists every page in fast mode, then resolves the tracks whose
// URL is not cached yet through the concurrent engine. The listing order is
// kept.
func (c *Client) ResolveAlbum(
	ctx context.Context,
	albumID int64,
	pageSize int,
	progress engine.ProgressFunc,
) ([]types.Track, engine.Summary, error) {
	tracks, err := c.fetcher.FetchAll(ctx, albumID, pageSize, types.ModeFast, nil)
	if nil != err {
		return nil, engine.Summary{}, fmt.Errorf("failed to list album: %w", err) //nolint:exhaustruct
	}

	var (
		pending   []types.Track
		positions []int
	)
	for i, t := range tracks {
		if !t.Resolved() {
			pending = append(pending, t)
			positions = append(positions, i)
		}
	}

	c.logger.
		Info().
		Int64("album_id", albumID).
		Int("tracks", len(tracks)).
		Int("pending", len(pending)).
		Msg("Album listed, resolving pending tracks")

	resolved, summary := c.engine.ResolveMany(ctx, albumID, pending, progress)
	for i, t := range resolved {
		tracks[positions[i]] = t
	}

	return tracks, summary, nil
}

func (c *Client) Stats() (store.Stats, error) {
	return c.store.Stats()
}

func (c *Client) AlbumTracks(albumID int64) []store.CachedTrackURL {
	return c.store.AlbumTracks(albumID)
}

// Cleanup removes expired track and page records.
func (c *Client) Cleanup() (int, int, error) {
	tracks, tracksErr := c.store.CleanupExpired()
	pages, pagesErr := c.store.CleanupExpiredPages()

	return tracks, pages, errors.Join(tracksErr, pagesErr)
}

func (c *Client) ClearTracks() error {
	return c.store.Clear()
}

func (c *Client) ImportLegacyJSON(ctx context.Context, r io.Reader) (int, error) {
	return c.store.ImportLegacyJSON(ctx, r)
}
