// Package store is the durable two-tier cache: resolved playback URLs keyed
// by (track, album) and listing pages keyed by (album, page, page size).
//
// Every read-evict-write sequence runs under a single per-store mutex, so a
// lookup never interleaves with another caller's eviction or verification
// update. Liveness probes are the exception: they run unlocked and their
// outcome is applied in a second locked step.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"

	"github.com/xeptore/xmfetch/config"
)

var (
	tracksBucketName = []byte("tracks")
	pagesBucketName  = []byte("pages")
)

// Policy holds the expiry and revalidation windows.
type Policy struct {
	TrackTTL          time.Duration
	VerifyAfter       time.Duration
	MaxVerifyFailures int
	PageTTL           time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		TrackTTL:          24 * time.Hour,
		VerifyAfter:       12 * time.Hour,
		MaxVerifyFailures: 3,
		PageTTL:           6 * time.Hour,
	}
}

func PolicyFromConfig(conf config.Store) Policy {
	return Policy{
		TrackTTL:          conf.TrackTTL.Duration,
		VerifyAfter:       conf.VerifyAfter.Duration,
		MaxVerifyFailures: conf.MaxVerifyFailures,
		PageTTL:           conf.PageTTL.Duration,
	}
}

type Store struct {
	db     *bbolt.DB
	path   string
	logger zerolog.Logger
	policy Policy
	prober Prober
	now    func() time.Time
	mux    sync.Mutex
}

type Option func(*Store)

func WithPolicy(p Policy) Option {
	return func(s *Store) { s.policy = p }
}

func WithProber(p Prober) Option {
	return func(s *Store) { s.prober = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the store file at path. The caller owns the returned
// store and must Close it.
func Open(path string, logger zerolog.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); nil != err {
		return nil, fmt.Errorf("failed to create store directory: %v", err)
	}

	db, err := openDB(path, logger)
	if nil != err {
		return nil, err
	}

	if err := createBuckets(db); nil != err {
		if closeErr := db.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close database: %v", closeErr))
		}

		return nil, err
	}

	s := &Store{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "store").Logger(),
		policy: DefaultPolicy(),
		prober: NewHTTPProber(10 * time.Second),
		now:    time.Now,
		mux:    sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// openDB retries while another process holds the file lock.
func openDB(path string, logger zerolog.Logger) (*bbolt.DB, error) {
	opts := &bbolt.Options{ //nolint:exhaustruct
		NoFreelistSync: true,
		ReadOnly:       false,
		Timeout:        1 * time.Second,
		NoGrowSync:     false,
		FreelistType:   bbolt.FreelistArrayType,
	}

	op := func() (*bbolt.DB, error) {
		db, err := bbolt.Open(path, 0o600, opts)
		if nil != err {
			if errors.Is(err, bolterrors.ErrTimeout) {
				logger.Warn().Str("path", path).Msg("Store file is locked by another process, retrying")
				return nil, err
			}

			return nil, backoff.Permanent(err)
		}

		return db, nil
	}

	b := backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(500*time.Millisecond),
			backoff.WithMaxInterval(5*time.Second),
		),
		3,
	)
	db, err := backoff.RetryWithData(op, b)
	if nil != err {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	return db, nil
}

func createBuckets(db *bbolt.DB) error {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{tracksBucketName, pagesBucketName} {
			if _, err := tx.CreateBucketIfNotExists(name); nil != err {
				return fmt.Errorf("failed to create %s bucket: %v", name, err)
			}
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to create buckets: %v", err)
	}

	return nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	if err := s.db.Close(); nil != err {
		return fmt.Errorf("failed to close database: %v", err)
	}

	return nil
}

// trackKey orders records by album, then by track id, so a prefix scan over
// an album walks its tracks in ascending id order.
func trackKey(albumID, trackID int64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(albumID)) //nolint:gosec
	binary.BigEndian.PutUint64(k[8:], uint64(trackID)) //nolint:gosec

	return k
}

func albumPrefix(albumID int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(albumID)) //nolint:gosec

	return k
}

func pageKey(albumID int64, page, pageSize int) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(albumID))   //nolint:gosec
	binary.BigEndian.PutUint32(k[8:12], uint32(page))    //nolint:gosec
	binary.BigEndian.PutUint32(k[12:], uint32(pageSize)) //nolint:gosec

	return k
}
