package embedding

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SimilarityCache memoizes pairwise similarities of an underlying store.
// Only successful lookups are cached, so errors are reported on every call.
type SimilarityCache struct {
	Store
	cache *lru.Cache[pairKey, float64]
}

type pairKey struct {
	a, b string
}

func newPairKey(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// NewSimilarityCache wraps s with an LRU cache holding up to size pairs.
func NewSimilarityCache(s Store, size int) (*SimilarityCache, error) {
	cache, err := lru.New[pairKey, float64](size)
	if err != nil {
		return nil, fmt.Errorf("creating similarity cache: %w", err)
	}
	return &SimilarityCache{Store: s, cache: cache}, nil
}

// Similarity returns the cached similarity of a and b, computing it on a miss.
func (c *SimilarityCache) Similarity(a, b string) (float64, error) {
	key := newPairKey(a, b)
	if sim, ok := c.cache.Get(key); ok {
		return sim, nil
	}

	sim, err := c.Store.Similarity(key.a, key.b)
	if err != nil {
		return 0, err
	}
	c.cache.Add(key, sim)
	return sim, nil
}

// CachedPairs returns the number of cached similarities.
func (c *SimilarityCache) CachedPairs() int {
	return c.cache.Len()
}

// WithCache wraps s in a SimilarityCache when size is positive.
func WithCache(s Store, size int) (Store, error) {
	if size <= 0 {
		return s, nil
	}
	return NewSimilarityCache(s, size)
}
