package cache_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/xmfetch/cache"
)

func TestDecryptedURLsFetchMemoizes(t *testing.T) {
	t.Parallel()

	c := cache.New()
	t.Cleanup(c.Stop)

	var calls int
	fetch := func() (string, error) {
		calls++
		return "https://plain/a.m4a", nil
	}

	for range 3 {
		v, err := c.DecryptedURLs.Fetch("enc", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, "https://plain/a.m4a", v)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, c.DecryptedURLs.Len())
}

func TestDecryptedURLsFetchDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	c := cache.New()
	t.Cleanup(c.Stop)

	errBoom := errors.New("boom")
	_, err := c.DecryptedURLs.Fetch("enc", time.Minute, func() (string, error) { return "", errBoom })
	require.ErrorIs(t, err, errBoom)

	v, err := c.DecryptedURLs.Fetch("enc", time.Minute, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
