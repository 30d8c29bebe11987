package store

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"
)

type Stats struct {
	Total        int
	Valid        int
	Invalid      int
	Expired      int
	Albums       int
	PagesTotal   int
	PagesValid   int
	PagesExpired int
	PagedAlbums  int
	Path         string
	SizeBytes    int64
}

func (s Stats) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("total", s.Total).
		Int("valid", s.Valid).
		Int("invalid", s.Invalid).
		Int("expired", s.Expired).
		Int("albums", s.Albums).
		Int("album_pages_total", s.PagesTotal).
		Int("album_pages_valid", s.PagesValid).
		Int("album_pages_expired", s.PagesExpired).
		Int("cached_albums", s.PagedAlbums).
		Str("path", s.Path).
		Int64("size_bytes", s.SizeBytes)
}

// Stats scans both buckets in one read transaction. Expired counts records
// past their TTL regardless of their validity flag.
func (s *Store) Stats() (Stats, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	var (
		now = s.now()
		out = Stats{Path: s.path} //nolint:exhaustruct
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		albums := make(map[int64]struct{})
		err := tx.Bucket(tracksBucketName).ForEach(func(_, v []byte) error {
			var rec CachedTrackURL
			if err := json.Unmarshal(v, &rec); nil != err {
				return fmt.Errorf("failed to decode cached track: %v", err)
			}

			out.Total++
			if rec.IsValid {
				out.Valid++
				albums[rec.AlbumID] = struct{}{}
			}
			if s.trackExpired(&rec, now) {
				out.Expired++
			}

			return nil
		})
		if nil != err {
			return err
		}
		out.Invalid = out.Total - out.Valid
		out.Albums = len(albums)

		pagedAlbums := make(map[int64]struct{})
		err = tx.Bucket(pagesBucketName).ForEach(func(_, v []byte) error {
			var p CachedAlbumPage
			if err := json.Unmarshal(v, &p); nil != err {
				return fmt.Errorf("failed to decode cached page: %v", err)
			}

			out.PagesTotal++
			if s.pageExpired(&p, now) {
				out.PagesExpired++
			}
			pagedAlbums[p.AlbumID] = struct{}{}

			return nil
		})
		if nil != err {
			return err
		}
		out.PagesValid = out.PagesTotal - out.PagesExpired
		out.PagedAlbums = len(pagedAlbums)
		out.SizeBytes = tx.Size()

		return nil
	})
	if nil != err {
		return Stats{}, fmt.Errorf("failed to collect store stats: %v", err) //nolint:exhaustruct
	}

	return out, nil
}
