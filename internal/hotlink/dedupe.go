package hotlink

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// dedupeCacheSize bounds the recent-frame dedupe cache: a fixed window of
// recently seen (path, etag) pairs, old enough that a retransmitted frame
// from either QUIC or the event-bus fallback is recognized and dropped.
const dedupeCacheSize = 1024

// dedupe tracks recently observed (path, etag) pairs so a frame delivered
// twice -- once over QUIC, once replayed over the event bus during
// fallback -- is only ever applied once.
type dedupe struct {
	cache *lru.Cache[string, struct{}]
}

func newDedupe(size int) *dedupe {
	cache, _ := lru.New[string, struct{}](size)
	return &dedupe{cache: cache}
}

// Seen reports whether (path, etag) was already recorded, recording it if
// not. An empty etag never dedupes: the caller had nothing to key on.
func (d *dedupe) Seen(path, etag string) bool {
	if etag == "" {
		return false
	}
	key := path + "|" + etag
	if _, ok := d.cache.Get(key); ok {
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}
