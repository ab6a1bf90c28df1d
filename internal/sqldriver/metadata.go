package sqldriver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrUnknownMetadataKey is returned for keys outside the fixed recognized set.
// It signals a programming error in a caller, not a database failure.
var ErrUnknownMetadataKey = errors.New("unknown metadata key")

// metadataQueries maps each recognized metadata key to the single fixed query
// that populates it.
var metadataQueries = map[string]string{
	"version": "SELECT version() AS version",
	"extensions": `
		SELECT e.extname AS name, e.extversion AS version
		FROM pg_extension e
		WHERE e.extname IN ('hypopg', 'pg_stat_statements')`,
	"settings": `
		SELECT name, setting, unit
		FROM pg_settings
		WHERE name IN ('shared_buffers', 'work_mem', 'effective_cache_size',
		               'max_connections', 'track_io_timing')`,
}

// DriverFactory builds a fresh Executor for one fetch. Injected at
// construction so the cache never reaches for process-wide state.
type DriverFactory func() Executor

// MetadataCache is the per-session cache of expensive, rarely-changing server
// metadata. Values are immutable once set for the life of the session.
// Concurrent misses on the same key collapse into a single underlying query.
type MetadataCache struct {
	mu        sync.RWMutex
	values    map[string][]Row
	group     singleflight.Group
	newDriver DriverFactory
	logger    *log.Logger
}

// NewMetadataCache returns an empty cache that fetches through newDriver.
func NewMetadataCache(newDriver DriverFactory, logger *log.Logger) *MetadataCache {
	return &MetadataCache{
		values:    make(map[string][]Row),
		newDriver: newDriver,
		logger:    logger,
	}
}

// Get returns the cached value for key, fetching it from the database on the
// first request. Metadata is advisory: a failed fetch logs, leaves the key
// unpopulated so a later call may retry, and returns a nil value rather than
// an error. Unrecognized keys fail with ErrUnknownMetadataKey regardless of
// cache state.
func (c *MetadataCache) Get(ctx context.Context, key string) ([]Row, error) {
	query, ok := metadataQueries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetadataKey, key)
	}

	c.mu.RLock()
	value, cached := c.values[key]
	c.mu.RUnlock()
	if cached {
		return value, nil
	}

	result, _, _ := c.group.Do(key, func() (any, error) {
		// A concurrent flight may have populated the key after our check.
		c.mu.RLock()
		value, cached := c.values[key]
		c.mu.RUnlock()
		if cached {
			return value, nil
		}

		rows, err := c.newDriver().ExecuteQuery(ctx, query)
		if err != nil {
			c.logger.Printf("Failed to fetch metadata %q: %v", key, err)
			return []Row(nil), nil
		}

		c.mu.Lock()
		c.values[key] = rows
		c.mu.Unlock()
		return rows, nil
	})

	rows, _ := result.([]Row)
	return rows, nil
}

// Keys returns the fixed set of recognized metadata keys.
func (c *MetadataCache) Keys() []string {
	keys := make([]string, 0, len(metadataQueries))
	for k := range metadataQueries {
		keys = append(keys, k)
	}
	return keys
}
