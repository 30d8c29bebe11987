package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/xmfetch/config"
	"github.com/xeptore/xmfetch/ximalaya/api"
	"github.com/xeptore/xmfetch/ximalaya/types"
)

func newClient(t *testing.T, h http.Handler) *api.Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conf := config.API{ //nolint:exhaustruct
		Cookie:    "1&_token=abc",
		UserAgent: "test-agent",
		Quality:   2,
		Timeout:   config.Duration{Duration: 5 * time.Second},
	}
	c, err := api.New(conf, zerolog.Nop(), api.WithEndpoints(srv.URL+"/track/%d", srv.URL+"/album"))
	require.NoError(t, err)

	return c
}

func TestTrackInfo(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/track/42", r.URL.Path)
		assert.Equal(t, "web", r.URL.Query().Get("device"))
		assert.Equal(t, "7", r.URL.Query().Get("trackId"))
		assert.Equal(t, "2", r.URL.Query().Get("trackQualityLevel"))
		assert.Equal(t, "1&_token=abc", r.Header.Get("Cookie"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))

		_, _ = w.Write([]byte(`{"ret":0,"trackInfo":{"trackId":7,"title":"t","duration":90,"playUrlList":[{"url":"first"},{"url":"second"}]}}`))
	}))

	info, err := c.TrackInfo(context.Background(), 42, 7)
	require.NoError(t, err)
	assert.Equal(t, &api.TrackInfo{TrackID: 7, Title: "t", Duration: 90, EncryptedURL: "first"}, info)
}

func TestTrackInfoWithoutPlayURLs(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ret":0,"trackInfo":{"trackId":7}}`))
	}))

	info, err := c.TrackInfo(context.Background(), 42, 7)
	require.NoError(t, err)
	assert.Empty(t, info.EncryptedURL)
}

func TestRiskControl(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"code":    `{"ret":1001,"msg":"busy"}`,
		"message": `{"ret":0,"msg":"系统繁忙，请稍后再试"}`,
	} {
		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		_, err := c.TrackInfo(context.Background(), 1, 1)
		require.ErrorIs(t, err, api.ErrRiskControl, name)

		_, err = c.AlbumTracks(context.Background(), 1, 1, 30)
		require.ErrorIs(t, err, api.ErrRiskControl, name)
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))

	_, err := c.TrackInfo(context.Background(), 1, 1)
	require.Error(t, err)

	var statusErr *api.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, "upstream down", statusErr.Body)
	assert.NotErrorIs(t, err, api.ErrRiskControl)
}

func TestAlbumTracks(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/album", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("albumId"))
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "https://www.ximalaya.com/album/42", r.Header.Get("Referer"))

		_, _ = w.Write([]byte(`{"ret":0,"data":{"totalCount":55,"trackDetailInfos":[
			{"trackInfo":{"id":1,"title":"a","createdTime":"2024-01-01","updatedTime":"2024-01-02","duration":10,"cover":"group/a.jpg"}},
			{"trackInfo":{"id":2,"title":"b","createdTime":1704067200000,"updatedTime":null,"duration":11}}
		]}}`))
	}))

	page, err := c.AlbumTracks(context.Background(), 42, 3, 20)
	require.NoError(t, err)
	assert.Equal(t, 55, page.TotalCount)
	assert.Equal(t, []types.TrackSummary{
		{ID: 1, Title: "a", CreatedAt: "2024-01-01", UpdatedAt: "2024-01-02", Duration: 10, Cover: "group/a.jpg"},
		{ID: 2, Title: "b", CreatedAt: "1704067200000", UpdatedAt: "", Duration: 11, Cover: ""},
	}, page.Tracks)
}

func TestProxyConfig(t *testing.T) {
	t.Parallel()

	conf := config.API{ //nolint:exhaustruct
		Proxy: config.Proxy{Host: "127.0.0.1", Port: 1080, Username: "u", Password: "p"},
	}
	_, err := api.New(conf, zerolog.Nop())
	require.NoError(t, err)
}
