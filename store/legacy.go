package store

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

type legacyEntry struct {
	TrackID      int64  `json:"track_id"`
	AlbumID      int64  `json:"album_id"`
	EncryptedURL string `json:"crypted_url"`
	DecryptedURL string `json:"decrypted_url"`
}

// ImportLegacyJSON reads a flat JSON object of cached URLs, keyed by an
// arbitrary string, and upserts every well-formed entry. Entries missing a
// track or album id are skipped.
func (s *Store) ImportLegacyJSON(ctx context.Context, r io.Reader) (int, error) {
	var entries map[string]legacyEntry
	if err := json.NewDecoder(r).Decode(&entries); nil != err {
		return 0, fmt.Errorf("failed to decode legacy cache file: %v", err)
	}

	var imported int
	for key, e := range entries {
		if err := ctx.Err(); nil != err {
			return imported, err
		}

		if e.TrackID == 0 || e.AlbumID == 0 {
			s.logger.Warn().Str("key", key).Msg("Skipping legacy cache entry without track or album id")
			continue
		}

		s.PutTrack(ctx, TrackEntry{ //nolint:exhaustruct
			TrackID:      e.TrackID,
			AlbumID:      e.AlbumID,
			EncryptedURL: e.EncryptedURL,
			DecryptedURL: e.DecryptedURL,
		})
		imported++
	}

	s.logger.Info().Int("imported", imported).Int("entries", len(entries)).Msg("Imported legacy cache file")

	return imported, nil
}
