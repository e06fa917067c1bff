package wav

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/patrickmn/go-cache"
)

// DecodeRecorder receives decode and cache lookup observations.
type DecodeRecorder interface {
	RecordDecode(format string, size int, d time.Duration, err error)
	RecordCacheLookup(hit bool)
}

// Cache memoizes decoded samples by the content hash of their WAV bytes, so
// reloading the same click buffer does not decode it again.
type Cache struct {
	items    *cache.Cache
	recorder DecodeRecorder
}

// CacheOption configures a Cache
type CacheOption func(*Cache)

// WithRecorder attaches a metrics recorder
func WithRecorder(r DecodeRecorder) CacheOption {
	return func(c *Cache) {
		c.recorder = r
	}
}

// NewCache creates a cache whose entries expire after ttl. A cleanup interval
// of zero or less disables the background janitor.
func NewCache(ttl, cleanupInterval time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{items: cache.New(ttl, cleanupInterval)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decode returns the cached sample for data or decodes and stores it.
// Failed decodes are not cached. The returned sample is shared and must not
// be modified.
func (c *Cache) Decode(data []byte) (*Sample, error) {
	key := strconv.FormatUint(xxhash.Sum64(data), 16)
	if v, ok := c.items.Get(key); ok {
		if c.recorder != nil {
			c.recorder.RecordCacheLookup(true)
		}
		return v.(*Sample), nil
	}
	if c.recorder != nil {
		c.recorder.RecordCacheLookup(false)
	}

	start := time.Now()
	s, err := Decode(data)
	if c.recorder != nil {
		c.recorder.RecordDecode("wav", len(data), time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	c.items.SetDefault(key, s)
	return s, nil
}

// Len returns the number of cached samples, including expired ones not yet purged.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// Flush drops every cached sample.
func (c *Cache) Flush() {
	c.items.Flush()
}
