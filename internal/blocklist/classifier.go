package blocklist

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto"
)

// IsAd reports whether domain is an ad domain according to store.
func IsAd(domain string, store *Store) bool {
	return store.ContainsMatch(domain)
}

// Classifier memoises IsAd verdicts in a bounded cache keyed on the
// lower-cased domain. Verdicts are identical with or without the cache.
type Classifier struct {
	store *Store
	cache *ristretto.Cache
}

// NewClassifier returns a Classifier over store. A size of zero or less
// disables the cache and every call goes straight to IsAd.
func NewClassifier(store *Store, size int64) (*Classifier, error) {
	c := &Classifier{store: store}
	if size <= 0 {
		return c, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("blocklist: could not create verdict cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

// IsAd is the cached form of the package-level IsAd.
func (c *Classifier) IsAd(domain string) bool {
	if c.cache == nil {
		return IsAd(domain, c.store)
	}
	key := strings.ToLower(domain)
	if v, ok := c.cache.Get(key); ok {
		if verdict, ok := v.(bool); ok {
			return verdict
		}
	}
	verdict := IsAd(key, c.store)
	c.cache.Set(key, verdict, 1)
	return verdict
}

// Store returns the underlying pattern set.
func (c *Classifier) Store() *Store { return c.store }

// Close releases the cache's background goroutines.
func (c *Classifier) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}
