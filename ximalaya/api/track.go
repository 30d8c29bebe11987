package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
)

type TrackInfo struct {
	TrackID  int64
	Title    string
	Duration int
	// EncryptedURL is empty when the service lists no playable URL for the
	// track, e.g. paid content without a matching session.
	EncryptedURL string
}

type trackBaseInfoResponse struct {
	TrackInfo struct {
		TrackID     int64  `json:"trackId"`
		Title       string `json:"title"`
		Duration    int    `json:"duration"`
		PlayURLList []struct {
			URL string `json:"url"`
		} `json:"playUrlList"`
	} `json:"trackInfo"`
}

func (c *Client) TrackInfo(ctx context.Context, albumID, trackID int64) (*TrackInfo, error) {
	logger := c.logger.With().Int64("album_id", albumID).Int64("track_id", trackID).Logger()

	params := make(url.Values, 3)
	params.Add("device", "web")
	params.Add("trackId", strconv.FormatInt(trackID, 10))
	params.Add("trackQualityLevel", strconv.Itoa(c.conf.Quality))

	header := make(http.Header, 2)
	header.Set("User-Agent", c.conf.UserAgent)
	header.Set("Accept", "application/json")

	b, err := c.get(ctx, logger, fmt.Sprintf(c.trackURLFormat, albumID), params, header)
	if nil != err {
		return nil, err
	}

	var resp trackBaseInfoResponse
	if err := json.Unmarshal(b, &resp); nil != err {
		return nil, fmt.Errorf("failed to decode track base info response: %v", err)
	}

	info := &TrackInfo{
		TrackID:      trackID,
		Title:        resp.TrackInfo.Title,
		Duration:     resp.TrackInfo.Duration,
		EncryptedURL: "",
	}
	if len(resp.TrackInfo.PlayURLList) > 0 {
		info.EncryptedURL = resp.TrackInfo.PlayURLList[0].URL
	}

	return info, nil
}
