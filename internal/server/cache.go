package server

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/michaelbrown/smartdj/internal/dj"
	"github.com/michaelbrown/smartdj/internal/session"
)

const (
	defaultContextCacheSize = 256
	defaultContextCacheTTL  = 5 * time.Minute
)

type cacheEntry struct {
	lc       dj.ListeningContext
	storedAt time.Time
}

// contextCache keeps recently loaded listening contexts per user so every chat
// turn does not cost three library reads.
type contextCache struct {
	reader dj.LibraryReader
	cache  *lru.Cache[string, cacheEntry]
	ttl    time.Duration
	now    func() time.Time
}

func newContextCache(reader dj.LibraryReader, size int, ttl time.Duration) *contextCache {
	if size <= 0 {
		size = defaultContextCacheSize
	}
	if ttl <= 0 {
		ttl = defaultContextCacheTTL
	}
	c, _ := lru.New[string, cacheEntry](size) // only errors on size <= 0
	return &contextCache{reader: reader, cache: c, ttl: ttl, now: time.Now}
}

// Get returns the user's listening context, loading it on a miss or when the
// cached copy is older than the TTL. An empty context is returned but not
// cached, since library reads fail soft and empty usually means they failed.
func (c *contextCache) Get(ctx context.Context, sess *session.Session) (dj.ListeningContext, error) {
	if entry, ok := c.cache.Get(sess.UserID); ok {
		if c.now().Sub(entry.storedAt) < c.ttl {
			return entry.lc, nil
		}
		c.cache.Remove(sess.UserID)
	}

	lc, err := dj.LoadContext(ctx, c.reader, sess.AccessToken, sess.Profile)
	if err != nil {
		return dj.ListeningContext{}, err
	}
	if lc.Empty() {
		return lc, nil
	}
	c.cache.Add(sess.UserID, cacheEntry{lc: lc, storedAt: c.now()})
	return lc, nil
}

// Invalidate drops a user's cached context (after logout or playlist changes).
func (c *contextCache) Invalidate(userID string) {
	c.cache.Remove(userID)
}
