// Package pagecache caches fixed-size page reads against a pagefile's
// backing io.ReaderAt in a bigcache instance, so repeated lookups that land
// on the same page skip the underlying read entirely.
package pagecache

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/allegro/bigcache/v3"
)

// Cache wraps an io.ReaderAt, caching whole reads keyed by (offset, length).
type Cache struct {
	cache  *bigcache.BigCache
	source io.ReaderAt
}

// NewWithConfig builds a Cache over source using the given bigcache config.
func NewWithConfig(ctx context.Context, source io.ReaderAt, config bigcache.Config) (*Cache, error) {
	cache, err := bigcache.New(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Cache{
		cache:  cache,
		source: source,
	}, nil
}

func formatPageKey(off int64, length int) string {
	return strconv.FormatInt(off, 10) + ":" + strconv.Itoa(length)
}

// Get returns the cached bytes for the (offset, length) region, if present.
func (c *Cache) Get(off int64, length int) (v []byte, err error, has bool) {
	if v, err := c.cache.Get(formatPageKey(off, length)); err == nil {
		return v, nil, true
	} else {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return nil, nil, false
		}
		return nil, err, false
	}
}

// Put stores data as the cached contents of the (offset, length) region.
func (c *Cache) Put(off int64, data []byte) error {
	return c.cache.Set(formatPageKey(off, len(data)), data)
}

// ReadAt satisfies io.ReaderAt: it serves p from the cache when the exact
// (offset, len(p)) region was previously read, otherwise reads through to
// the backing source and populates the cache for next time.
func (c *Cache) ReadAt(p []byte, off int64) (int, error) {
	if v, err, has := c.Get(off, len(p)); has {
		return copy(p, v), nil
	} else if err != nil {
		return 0, err
	}

	n, err := c.source.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, err
	}
	if putErr := c.Put(off, p[:n]); putErr != nil {
		return n, putErr
	}
	return n, err
}
