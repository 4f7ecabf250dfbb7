//go:build integration

package cache

import (
	"testing"
	"time"

	"go-pagewatch/internal/config"

	"github.com/stretchr/testify/require"
)

// newTestCache creates a new in-memory cache for testing.
func newTestCache(t *testing.T) (*Cache, func()) {
	t.Helper()
	cfg := config.CacheConfig{
		FilePath: "file::memory:",
		TTL:      time.Hour,
	}
	c, err := New(cfg)
	require.NoError(t, err)
	teardown := func() {
		c.Close()
	}
	return c, teardown
}

func TestCache_SetGet(t *testing.T) {
	c, teardown := newTestCache(t)
	defer teardown()

	require.NoError(t, c.Set("page-1", []byte(`{"etag":"abc"}`), c.TTL()))

	value, err := c.Get("page-1")
	require.NoError(t, err)
	require.Equal(t, `{"etag":"abc"}`, string(value))

	value, err = c.Get("missing")
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestCache_Expiry(t *testing.T) {
	c, teardown := newTestCache(t)
	defer teardown()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set("a", []byte("1"), time.Minute))
	require.NoError(t, c.Set("b", []byte("2"), time.Hour))

	now = now.Add(2 * time.Minute)

	value, err := c.Get("a")
	require.NoError(t, err)
	require.Nil(t, value, "expired entries are cache misses")

	require.NoError(t, c.Set("c", []byte("3"), -time.Minute))
	purged, err := c.Purge()
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	value, err = c.Get("b")
	require.NoError(t, err)
	require.Equal(t, "2", string(value))
}

func TestCache_Delete(t *testing.T) {
	c, teardown := newTestCache(t)
	defer teardown()

	require.NoError(t, c.Set("a", []byte("1"), time.Hour))
	require.NoError(t, c.Delete("a"))

	value, err := c.Get("a")
	require.NoError(t, err)
	require.Nil(t, value)
}
