package dataType

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultSeenCacheSize = 128

// SeenCache remembers the most recently processed message ids.
// It is owned by a single node goroutine.
type SeenCache struct {
	cache *lru.Cache[MessageID, struct{}]
}

func NewSeenCache(size int) (*SeenCache, error) {
	if size <= 0 {
		size = DefaultSeenCacheSize
	}
	c, err := lru.New[MessageID, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &SeenCache{cache: c}, nil
}

// Contains reports whether id was seen and marks it as recently used.
func (s *SeenCache) Contains(id MessageID) bool {
	_, ok := s.cache.Get(id)
	return ok
}

// Add records id and reports whether the least recently used entry was evicted.
func (s *SeenCache) Add(id MessageID) bool {
	return s.cache.Add(id, struct{}{})
}

func (s *SeenCache) Len() int {
	return s.cache.Len()
}

// Peek reports whether id is present without touching its recency.
func (s *SeenCache) Peek(id MessageID) bool {
	return s.cache.Contains(id)
}
