// Package api talks to the two ximalaya web endpoints the pipeline depends
// on: per-track base info and the paginated album listing.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"github.com/xeptore/xmfetch/config"
	"github.com/xeptore/xmfetch/httputil"
	"github.com/xeptore/xmfetch/ratelimit"
)

const (
	trackBaseInfoURLFormat = "https://www.ximalaya.com/mobile-playpage/track/v3/baseInfo/%d"
	albumTracksURL         = "https://m.ximalaya.com/m-revision/common/album/queryAlbumTrackRecordsByPage"
	maxLoggedBodyLen       = 500
)

// ErrRiskControl is returned when a 200 response carries the service's
// anti-automation busy signal instead of a payload.
var ErrRiskControl = errors.New("risk control triggered")

// StatusError is returned for any non-200 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response code %d with body: %s", e.Code, e.Body)
}

// TrackAPI fetches a single track's playback info.
type TrackAPI interface {
	TrackInfo(ctx context.Context, albumID, trackID int64) (*TrackInfo, error)
}

// AlbumAPI fetches one listing page of an album.
type AlbumAPI interface {
	AlbumTracks(ctx context.Context, albumID int64, page, pageSize int) (*AlbumPage, error)
}

type Client struct {
	logger         zerolog.Logger
	conf           config.API
	http           *http.Client
	limiter        *rate.Limiter
	trackURLFormat string
	albumURL       string
}

type Option func(*Client)

// WithEndpoints overrides the upstream URLs. trackURLFormat must contain a
// single %d verb for the album id.
func WithEndpoints(trackURLFormat, albumURL string) Option {
	return func(c *Client) {
		c.trackURLFormat = trackURLFormat
		c.albumURL = albumURL
	}
}

func New(conf config.API, logger zerolog.Logger, opts ...Option) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert

	if conf.Proxy.Enabled() {
		var proxyAuth *proxy.Auth
		if len(conf.Proxy.Username) > 0 && len(conf.Proxy.Password) > 0 {
			proxyAuth = &proxy.Auth{
				User:     conf.Proxy.Username,
				Password: conf.Proxy.Password,
			}
		}
		sock5, err := proxy.SOCKS5(
			"tcp",
			net.JoinHostPort(conf.Proxy.Host, strconv.Itoa(conf.Proxy.Port)),
			proxyAuth,
			proxy.Direct,
		)
		if nil != err {
			return nil, fmt.Errorf("failed to create proxy dialer: %v", err)
		}
		dc, ok := sock5.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("failed to cast proxy to ContextDialer")
		}
		transport.Proxy = nil
		transport.DialContext = dc.DialContext
	}

	c := &Client{
		conf: conf,
		http: &http.Client{ //nolint:exhaustruct
			Transport: transport,
			Timeout:   conf.Timeout.Duration,
		},
		logger:         logger.With().Str("component", "api").Logger(),
		limiter:        ratelimit.NewRequestLimiter(conf.MinInterval.Duration),
		trackURLFormat: trackBaseInfoURLFormat,
		albumURL:       albumTracksURL,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) get(
	ctx context.Context,
	logger zerolog.Logger,
	rawURL string,
	params url.Values,
	header http.Header,
) (b []byte, err error) {
	reqURL, err := url.Parse(rawURL)
	if nil != err {
		return nil, fmt.Errorf("failed to parse request URL: %v", err)
	}
	reqURL.RawQuery = params.Encode()

	if err := c.limiter.Wait(ctx); nil != err {
		return nil, fmt.Errorf("failed to wait for request slot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if nil != err {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = header
	if len(c.conf.Cookie) > 0 {
		req.Header.Set("Cookie", c.conf.Cookie)
	}

	logger.Debug().Str("url", reqURL.String()).Msg("Sending request")

	resp, err := c.http.Do(req)
	if nil != err {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close response body")
			err = errors.Join(err, fmt.Errorf("failed to close response body: %v", closeErr))
		}
	}()

	switch code := resp.StatusCode; code {
	case http.StatusOK:
		respBytes, err := httputil.ReadResponseBody(resp)
		if nil != err {
			return nil, err
		}

		if httputil.IsRiskControlResponse(respBytes) {
			logger.Warn().Str("response_body", httputil.Snippet(respBytes, maxLoggedBodyLen)).Msg("Risk control response")
			return nil, ErrRiskControl
		}

		return respBytes, nil
	default:
		respBytes, err := httputil.ReadResponseBody(resp)
		if nil != err {
			respBytes = nil
		}

		logger.
			Error().
			Int("status_code", code).
			Str("response_body", httputil.Snippet(respBytes, maxLoggedBodyLen)).
			Msg("Unexpected response status code")

		return nil, &StatusError{Code: code, Body: httputil.Snippet(respBytes, maxLoggedBodyLen)}
	}
}
