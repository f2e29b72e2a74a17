package hub

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultCacheTTL is how long a cached API response stays fresh
const DefaultCacheTTL = 300 * time.Second

var bucketResponses = []byte("responses")

type cacheEntry struct {
	StoredAt time.Time       `json:"stored_at"`
	Data     json.RawMessage `json:"data"`
}

// Cache keeps hub API responses in a BoltDB file with a fixed time to live
type Cache struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// OpenCache opens or creates the cache database at path
func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResponses)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

// Close releases the database file
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns a fresh entry for key
func (c *Cache) Get(key string) ([]byte, bool) {
	var raw []byte
	c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketResponses).Get([]byte(key)); v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	})
	if raw == nil {
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	if c.now().Sub(entry.StoredAt) >= c.ttl {
		return nil, false
	}
	return entry.Data, true
}

// Put stores a JSON document under key
func (c *Cache) Put(key string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("refusing to cache invalid JSON for %s", key)
	}
	raw, err := json.Marshal(cacheEntry{StoredAt: c.now(), Data: data})
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResponses).Put([]byte(key), raw)
	})
}

// Invalidate removes key
func (c *Cache) Invalidate(key string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResponses).Delete([]byte(key))
	})
}

// Purge deletes every expired entry and returns how many were removed
func (c *Cache) Purge() (int, error) {
	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResponses)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var entry cacheEntry
			if json.Unmarshal(v, &entry) != nil || c.now().Sub(entry.StoredAt) >= c.ttl {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
