package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/xeptore/xmfetch/ximalaya/types"
)

type AlbumPage struct {
	TotalCount int
	Tracks     []types.TrackSummary
}

type albumTracksResponse struct {
	Data struct {
		TotalCount       int `json:"totalCount"`
		TrackDetailInfos []struct {
			TrackInfo struct {
				ID          int64      `json:"id"`
				Title       string     `json:"title"`
				CreatedTime flexString `json:"createdTime"`
				UpdatedTime flexString `json:"updatedTime"`
				Duration    int        `json:"duration"`
				Cover       string     `json:"cover"`
			} `json:"trackInfo"`
		} `json:"trackDetailInfos"`
	} `json:"data"`
}

// flexString accepts either a JSON string or a JSON number; the listing
// endpoint has served timestamps as both.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); nil != err {
			return err
		}
		*s = flexString(v)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); nil != err {
		return fmt.Errorf("expected string or number, got %s", string(b))
	}
	*s = flexString(n.String())

	return nil
}

func (c *Client) AlbumTracks(ctx context.Context, albumID int64, page, pageSize int) (*AlbumPage, error) {
	logger := c.logger.With().Int64("album_id", albumID).Int("page", page).Int("page_size", pageSize).Logger()

	params := make(url.Values, 3)
	params.Add("albumId", strconv.FormatInt(albumID, 10))
	params.Add("page", strconv.Itoa(page))
	params.Add("pageSize", strconv.Itoa(pageSize))

	header := make(http.Header, 12)
	header.Set("User-Agent", c.conf.UserAgent)
	header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	header.Set("Cache-Control", "no-cache")
	header.Set("Pragma", "no-cache")
	header.Set("Referer", "https://www.ximalaya.com/album/"+strconv.FormatInt(albumID, 10))
	header.Set("Origin", "https://www.ximalaya.com")
	header.Set("sec-ch-ua", `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`)
	header.Set("sec-ch-ua-mobile", "?0")
	header.Set("sec-ch-ua-platform", `"Windows"`)
	header.Set("X-Requested-With", "XMLHttpRequest")

	b, err := c.get(ctx, logger, c.albumURL, params, header)
	if nil != err {
		return nil, err
	}

	var resp albumTracksResponse
	if err := json.Unmarshal(b, &resp); nil != err {
		return nil, fmt.Errorf("failed to decode album tracks response: %v", err)
	}

	out := &AlbumPage{
		TotalCount: resp.Data.TotalCount,
		Tracks:     make([]types.TrackSummary, 0, len(resp.Data.TrackDetailInfos)),
	}
	for _, d := range resp.Data.TrackDetailInfos {
		info := d.TrackInfo
		out.Tracks = append(out.Tracks, types.TrackSummary{
			ID:        info.ID,
			Title:     info.Title,
			CreatedAt: string(info.CreatedTime),
			UpdatedAt: string(info.UpdatedTime),
			Duration:  info.Duration,
			Cover:     info.Cover,
		})
	}

	logger.Debug().Int("total_count", out.TotalCount).Int("tracks", len(out.Tracks)).Msg("Fetched album tracks page")

	return out, nil
}
