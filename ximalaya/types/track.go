package types

import (
	"github.com/rs/zerolog"
)

// Track is a value object handed to callers. Mutating it never touches the
// store.
type Track struct {
	ID           int64
	Title        string
	CreatedAt    string
	UpdatedAt    string
	EncryptedURL string
	URL          string
	Duration     int
	TotalCount   int
	Page         int
	PageSize     int
	Cover        string
}

func (t Track) Resolved() bool {
	return len(t.URL) > 0
}

func (t Track) Summary() TrackSummary {
	return TrackSummary{
		ID:        t.ID,
		Title:     t.Title,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
		Duration:  t.Duration,
		Cover:     t.Cover,
	}
}

func (t Track) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int64("id", t.ID).
		Str("title", t.Title).
		Int("duration", t.Duration).
		Int("page", t.Page).
		Int("page_size", t.PageSize).
		Bool("resolved", t.Resolved())
}

// TrackSummary is the lightweight listing record persisted with a cached page.
type TrackSummary struct {
	ID        int64  `json:"trackId"`
	Title     string `json:"title"`
	CreatedAt string `json:"createTime"`
	UpdatedAt string `json:"updateTime"`
	Duration  int    `json:"duration"`
	Cover     string `json:"cover,omitempty"`
}

func (s TrackSummary) Track(page, pageSize, totalCount int) Track {
	return Track{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		EncryptedURL: "",
		URL:          "",
		Duration:     s.Duration,
		TotalCount:   totalCount,
		Page:         page,
		PageSize:     pageSize,
		Cover:        s.Cover,
	}
}
