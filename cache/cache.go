// Package cache holds short-lived in-process memos layered above the
// durable store.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
)

var DefaultDecryptedURLTTL = 1 * time.Hour

type Cache struct {
	DecryptedURLs DecryptedURLsCache
}

func New() *Cache {
	decryptedURLsCache := ccache.New(
		ccache.Configure[string]().
			MaxSize(10_000).
			GetsPerPromote(3).
			ItemsToPrune(100),
	)

	return &Cache{
		DecryptedURLs: DecryptedURLsCache{
			c:   decryptedURLsCache,
			mux: sync.Mutex{},
		},
	}
}

func (c *Cache) Stop() {
	c.DecryptedURLs.c.Stop()
}

// DecryptedURLsCache maps an encrypted playback URL to its plaintext form.
type DecryptedURLsCache struct {
	c   *ccache.Cache[string]
	mux sync.Mutex
}

func (c *DecryptedURLsCache) Fetch(
	encrypted string,
	ttl time.Duration,
	fetch func() (string, error),
) (string, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	v, err := c.c.Fetch(encrypted, ttl, fetch)
	if nil != err {
		return "", fmt.Errorf("fetch decrypted url: %w", err)
	}

	return v.Value(), nil
}

func (c *DecryptedURLsCache) Len() int {
	return c.c.ItemCount()
}
