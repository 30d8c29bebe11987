package store

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"

	"github.com/xeptore/xmfetch/ximalaya/types"
)

// CachedAlbumPage is one persisted listing page.
type CachedAlbumPage struct {
	AlbumID    int64                `json:"album_id"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	TotalCount int                  `json:"total_count"`
	Tracks     []types.TrackSummary `json:"tracks_data"`
	CacheTime  time.Time            `json:"cache_time"`
}

func (s *Store) pageExpired(p *CachedAlbumPage, now time.Time) bool {
	return now.Sub(p.CacheTime) > s.policy.PageTTL
}

// GetPage returns the cached listing page if it is younger than the page
// TTL. Expired pages are evicted.
func (s *Store) GetPage(albumID int64, page, pageSize int) (*CachedAlbumPage, bool) {
	logger := s.logger.With().Int64("album_id", albumID).Int("page", page).Int("page_size", pageSize).Logger()

	s.mux.Lock()
	defer s.mux.Unlock()

	key := pageKey(albumID, page, pageSize)

	var cached *CachedAlbumPage
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(pagesBucketName).Get(key)
		if nil == v {
			return nil
		}

		var p CachedAlbumPage
		if err := json.Unmarshal(v, &p); nil != err {
			return fmt.Errorf("failed to decode cached page: %v", err)
		}
		cached = &p

		return nil
	})
	if nil != err {
		logger.Error().Err(err).Msg("Failed to read cached page")
		return nil, false
	}
	if nil == cached {
		logger.Debug().Msg("Page cache miss")
		return nil, false
	}

	if s.pageExpired(cached, s.now()) {
		logger.Debug().Time("cache_time", cached.CacheTime).Msg("Cached page expired, evicting")
		if err := s.deleteKey(pagesBucketName, key); nil != err {
			logger.Error().Err(err).Msg("Failed to evict expired page")
		}

		return nil, false
	}

	logger.Debug().Int("tracks", len(cached.Tracks)).Msg("Page cache hit")

	return cached, true
}

// PutPage upserts a listing page. Failures are logged and swallowed.
func (s *Store) PutPage(albumID int64, page, pageSize, totalCount int, tracks []types.TrackSummary) {
	logger := s.logger.With().Int64("album_id", albumID).Int("page", page).Int("page_size", pageSize).Logger()

	if nil == tracks {
		tracks = []types.TrackSummary{}
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	p := CachedAlbumPage{
		AlbumID:    albumID,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: totalCount,
		Tracks:     tracks,
		CacheTime:  s.now(),
	}
	b, err := json.Marshal(p)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to encode page")
		return
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(pagesBucketName).Put(pageKey(albumID, page, pageSize), b); nil != err {
			return fmt.Errorf("failed to store cached page: %v", err)
		}

		return nil
	})
	if nil != err {
		logger.Error().Err(err).Msg("Failed to cache page")
		return
	}

	logger.Debug().Int("tracks", len(tracks)).Int("total_count", totalCount).Msg("Page cached")
}

// CleanupExpiredPages deletes every page older than the page TTL.
func (s *Store) CleanupExpiredPages() (int, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	now := s.now()

	return s.deleteWhere(pagesBucketName, func(v []byte) (bool, error) {
		var p CachedAlbumPage
		if err := json.Unmarshal(v, &p); nil != err {
			return false, fmt.Errorf("failed to decode cached page: %v", err)
		}

		return s.pageExpired(&p, now), nil
	})
}
