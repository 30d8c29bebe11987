package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"
)

// CachedTrackURL is one persisted resolution result.
type CachedTrackURL struct {
	TrackID        int64           `json:"track_id"`
	AlbumID        int64           `json:"album_id"`
	Title          string          `json:"title"`
	Duration       int             `json:"duration"`
	EncryptedURL   string          `json:"crypted_url"`
	DecryptedURL   string          `json:"decrypted_url"`
	FileSize       *int64          `json:"file_size,omitempty"`
	CacheTime      time.Time       `json:"cache_time"`
	LastVerified   time.Time       `json:"last_verified"`
	IsValid        bool            `json:"is_valid"`
	VerifyFailures int             `json:"verify_count"`
	Extra          json.RawMessage `json:"extra_data,omitempty"`
}

func (t *CachedTrackURL) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int64("track_id", t.TrackID).
		Int64("album_id", t.AlbumID).
		Time("cache_time", t.CacheTime).
		Time("last_verified", t.LastVerified).
		Bool("is_valid", t.IsValid).
		Int("verify_count", t.VerifyFailures).
		Int("crypted_url_len", len(t.EncryptedURL)).
		Int("decrypted_url_len", len(t.DecryptedURL))
}

// TrackEntry is the input of PutTrack.
type TrackEntry struct {
	TrackID      int64
	AlbumID      int64
	Title        string
	Duration     int
	EncryptedURL string
	DecryptedURL string
	FileSize     *int64
	Extra        map[string]any
}

// TrackStatus is the batch lookup projection of a cached record.
type TrackStatus struct {
	EncryptedURL string
	DecryptedURL string
	IsValid      bool
}

func (s *Store) trackExpired(t *CachedTrackURL, now time.Time) bool {
	return now.Sub(t.CacheTime) > s.policy.TrackTTL
}

func (s *Store) verificationDue(t *CachedTrackURL, now time.Time) bool {
	return len(t.DecryptedURL) > 0 && now.Sub(t.LastVerified) > s.policy.VerifyAfter
}

// GetTrack returns the valid, unexpired record for the key. Expired records
// are evicted. A record due for revalidation is probed first; a failed probe
// makes this call miss and counts towards invalidation. The probe runs without
// holding the store lock, and its outcome is dropped if the record changed in
// the meantime.
func (s *Store) GetTrack(ctx context.Context, trackID, albumID int64) (*CachedTrackURL, bool) {
	logger := s.logger.With().Int64("track_id", trackID).Int64("album_id", albumID).Logger()
	key := trackKey(albumID, trackID)

	rec, due := s.lookupTrack(logger, key)
	if nil == rec {
		return nil, false
	}
	if !due {
		return rec, true
	}

	alive := s.prober.Probe(ctx, rec.DecryptedURL)

	return s.recordVerification(logger, key, rec, alive)
}

// lookupTrack reports the record to serve and whether it must be probed
// before serving it. A nil record is a miss.
func (s *Store) lookupTrack(logger zerolog.Logger, key []byte) (*CachedTrackURL, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()

	rec, err := s.readTrack(key)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to read cached track")
		return nil, false
	}
	if nil == rec {
		logger.Debug().Msg("Track cache miss")
		return nil, false
	}

	now := s.now()
	if s.trackExpired(rec, now) {
		logger.Debug().Time("cache_time", rec.CacheTime).Msg("Cached track expired, evicting")
		if err := s.deleteKey(tracksBucketName, key); nil != err {
			logger.Error().Err(err).Msg("Failed to evict expired track")
		}

		return nil, false
	}

	if !rec.IsValid {
		logger.Debug().Msg("Cached track is marked invalid")
		return nil, false
	}

	return rec, s.verificationDue(rec, now)
}

func (s *Store) recordVerification(logger zerolog.Logger, key []byte, probed *CachedTrackURL, alive bool) (*CachedTrackURL, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()

	rec, err := s.readTrack(key)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to read cached track")
		return nil, false
	}
	if nil == rec {
		return nil, false
	}

	if !rec.CacheTime.Equal(probed.CacheTime) ||
		!rec.LastVerified.Equal(probed.LastVerified) ||
		rec.VerifyFailures != probed.VerifyFailures {
		logger.Debug().Msg("Cached track changed while probing, keeping its current state")
		if !rec.IsValid || s.verificationDue(rec, s.now()) {
			return nil, false
		}

		return rec, true
	}

	if alive {
		rec.VerifyFailures = 0
		rec.LastVerified = s.now()
		if err := s.writeTrack(key, rec); nil != err {
			logger.Error().Err(err).Msg("Failed to persist verification result")
		}
		logger.Debug().Msg("Cached track URL verified")

		return rec, true
	}

	rec.VerifyFailures++
	if rec.VerifyFailures >= s.policy.MaxVerifyFailures {
		rec.IsValid = false
	}
	if err := s.writeTrack(key, rec); nil != err {
		logger.Error().Err(err).Msg("Failed to persist verification failure")
	}
	logger.
		Warn().
		Int("verify_count", rec.VerifyFailures).
		Int("max_verify_failures", s.policy.MaxVerifyFailures).
		Bool("is_valid", rec.IsValid).
		Msg("Cached track URL failed verification")

	return nil, false
}

// PutTrack upserts a record and resets its verification state. Failures are
// logged and swallowed: the resolution that produced the entry stands
// regardless of whether it could be cached.
func (s *Store) PutTrack(_ context.Context, e TrackEntry) {
	logger := s.logger.With().Int64("track_id", e.TrackID).Int64("album_id", e.AlbumID).Logger()

	var extra json.RawMessage
	if len(e.Extra) > 0 {
		b, err := json.Marshal(e.Extra)
		if nil != err {
			logger.Error().Err(err).Msg("Failed to encode track extra data, dropping it")
		} else {
			extra = b
		}
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	now := s.now()
	rec := &CachedTrackURL{
		TrackID:        e.TrackID,
		AlbumID:        e.AlbumID,
		Title:          e.Title,
		Duration:       e.Duration,
		EncryptedURL:   e.EncryptedURL,
		DecryptedURL:   e.DecryptedURL,
		FileSize:       e.FileSize,
		CacheTime:      now,
		LastVerified:   now,
		IsValid:        true,
		VerifyFailures: 0,
		Extra:          extra,
	}
	if err := s.writeTrack(trackKey(e.AlbumID, e.TrackID), rec); nil != err {
		logger.Error().Err(err).Msg("Failed to cache track")
		return
	}

	logger.Debug().Dict("track", rec.ToDict()).Msg("Track cached")
}

// AlbumTracks returns the album's valid, unexpired records ordered by track
// id ascending.
func (s *Store) AlbumTracks(albumID int64) []CachedTrackURL {
	s.mux.Lock()
	defer s.mux.Unlock()

	var (
		now    = s.now()
		prefix = albumPrefix(albumID)
		out    []CachedTrackURL
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(tracksBucketName).Cursor()
		for k, v := c.Seek(prefix); nil != k && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec CachedTrackURL
			if err := json.Unmarshal(v, &rec); nil != err {
				return fmt.Errorf("failed to decode cached track: %v", err)
			}
			if rec.IsValid && !s.trackExpired(&rec, now) {
				out = append(out, rec)
			}
		}

		return nil
	})
	if nil != err {
		s.logger.Error().Err(err).Int64("album_id", albumID).Msg("Failed to list album tracks")
		return nil
	}

	return out
}

// TracksStatus looks up many tracks of one album in a single transaction.
// Only valid, unexpired records carrying an encrypted URL are returned.
func (s *Store) TracksStatus(trackIDs []int64, albumID int64) map[int64]TrackStatus {
	out := make(map[int64]TrackStatus, len(trackIDs))
	if len(trackIDs) == 0 {
		return out
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	now := s.now()
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tracksBucketName)
		for _, id := range trackIDs {
			v := b.Get(trackKey(albumID, id))
			if nil == v {
				continue
			}

			var rec CachedTrackURL
			if err := json.Unmarshal(v, &rec); nil != err {
				return fmt.Errorf("failed to decode cached track %d: %v", id, err)
			}
			if !rec.IsValid || len(rec.EncryptedURL) == 0 || s.trackExpired(&rec, now) {
				continue
			}

			out[id] = TrackStatus{
				EncryptedURL: rec.EncryptedURL,
				DecryptedURL: rec.DecryptedURL,
				IsValid:      rec.IsValid,
			}
		}

		return nil
	})
	if nil != err {
		s.logger.Error().Err(err).Int64("album_id", albumID).Msg("Failed to look up tracks status")
		return map[int64]TrackStatus{}
	}

	return out
}

// CleanupExpired deletes every track record older than the track TTL and
// returns how many were removed.
func (s *Store) CleanupExpired() (int, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	now := s.now()

	return s.deleteWhere(tracksBucketName, func(v []byte) (bool, error) {
		var rec CachedTrackURL
		if err := json.Unmarshal(v, &rec); nil != err {
			return false, fmt.Errorf("failed to decode cached track: %v", err)
		}

		return s.trackExpired(&rec, now), nil
	})
}

// Clear drops every track record. Cached pages are kept.
func (s *Store) Clear() error {
	s.mux.Lock()
	defer s.mux.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(tracksBucketName); nil != err {
			return fmt.Errorf("failed to delete tracks bucket: %v", err)
		}

		if _, err := tx.CreateBucket(tracksBucketName); nil != err {
			return fmt.Errorf("failed to recreate tracks bucket: %v", err)
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to clear track cache: %v", err)
	}

	return nil
}

func (s *Store) readTrack(key []byte) (*CachedTrackURL, error) {
	var rec *CachedTrackURL
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(tracksBucketName).Get(key)
		if nil == v {
			return nil
		}

		var out CachedTrackURL
		if err := json.Unmarshal(v, &out); nil != err {
			return fmt.Errorf("failed to decode cached track: %v", err)
		}
		rec = &out

		return nil
	})
	if nil != err {
		return nil, err
	}

	return rec, nil
}

func (s *Store) writeTrack(key []byte, rec *CachedTrackURL) error {
	b, err := json.Marshal(rec)
	if nil != err {
		return fmt.Errorf("failed to encode cached track: %v", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(tracksBucketName).Put(key, b); nil != err {
			return fmt.Errorf("failed to store cached track: %v", err)
		}

		return nil
	})
}

func (s *Store) deleteKey(bucket, key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucket).Delete(key); nil != err {
			return fmt.Errorf("failed to delete %s entry: %v", bucket, err)
		}

		return nil
	})
}

func (s *Store) deleteWhere(bucket []byte, match func(v []byte) (bool, error)) (int, error) {
	var deleted int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var (
			b    = tx.Bucket(bucket)
			keys [][]byte
		)
		err := b.ForEach(func(k, v []byte) error {
			ok, err := match(v)
			if nil != err {
				return err
			}
			if ok {
				keys = append(keys, bytes.Clone(k))
			}

			return nil
		})
		if nil != err {
			return err
		}

		for _, k := range keys {
			if err := b.Delete(k); nil != err {
				return fmt.Errorf("failed to delete %s entry: %v", bucket, err)
			}
		}
		deleted = len(keys)

		return nil
	})
	if nil != err {
		return 0, fmt.Errorf("failed to clean up %s: %v", bucket, err)
	}

	return deleted, nil
}
