package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/contextmem/contextmem/pkg/types"
)

// cacheKey identifies one retrieval by session plus a digest of the query
// parameters. Keeping the session in the key makes per-session invalidation a
// prefix scan over the key set.
type cacheKey struct {
	SessionID string
	Digest    string
}

// contextCache is a TTL-bounded LRU over retrieved memory contexts. Entries
// expire on their own; writes to a session additionally invalidate all of the
// session's entries so the next read sees the new knowledge immediately.
type contextCache struct {
	lru *expirable.LRU[cacheKey, *types.MemoryContext]
}

func newContextCache(size int, ttl time.Duration) *contextCache {
	if size <= 0 {
		size = 1024
	}
	return &contextCache{
		lru: expirable.NewLRU[cacheKey, *types.MemoryContext](size, nil, ttl),
	}
}

func (c *contextCache) key(sessionID, query string, mode types.RetrievalMode, scope types.MemoryScope, horizonHours int) cacheKey {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", query, mode, scope, horizonHours)))
	return cacheKey{SessionID: sessionID, Digest: hex.EncodeToString(sum[:16])}
}

func (c *contextCache) get(k cacheKey) (*types.MemoryContext, bool) {
	return c.lru.Get(k)
}

func (c *contextCache) put(k cacheKey, mc *types.MemoryContext) {
	c.lru.Add(k, mc)
}

// invalidate drops every cached context of the session.
func (c *contextCache) invalidate(sessionID string) {
	for _, k := range c.lru.Keys() {
		if k.SessionID == sessionID {
			c.lru.Remove(k)
		}
	}
}

// purge empties the whole cache, for graph-wide invalidation.
func (c *contextCache) purge() {
	c.lru.Purge()
}
