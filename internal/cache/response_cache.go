// response_cache.go implements the Response Cache (spec.md §4.7) on top of
// the teacher's generic Cache interface (cache.go): ResponseCache owns the
// ETag/size/count/TTL bookkeeping an HTTP response cache needs, independent
// of which Cache backend (MemoryCache or RedisCache) stores the bytes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// cacheableContentTypes mirrors internal/dicomweb's allow-list; duplicated
// here (rather than imported) to keep this package free of a dependency on
// the HTTP layer it is agnostic of.
var cacheableContentTypes = map[string]bool{
	"application/dicom+json":   true,
	"application/json":         true,
	"multipart/related":        true,
	"application/dicom":        true,
	"application/octet-stream": true,
}

// entryMeta is the bookkeeping record kept per cache key, alongside the raw
// body stored in the underlying Cache backend.
type entryMeta struct {
	contentType string
	etag        string
	size        int
	expiresAt   time.Time
}

// ResponseCache is the Response Cache component. It is safe for concurrent
// use; its own mutex guards only the bookkeeping index; reads/writes of the
// actual body go through the pluggable Cache backend.
type ResponseCache struct {
	backend Cache
	ttl     time.Duration
	maxSize int
	maxBytes int64

	mu      sync.Mutex
	index   map[string]*entryMeta
	curSize int64
}

// NewResponseCache wraps backend with the size/count/TTL policy spec.md §6's
// Cache configuration block names: default_ttl_seconds, max_entries,
// max_bytes.
func NewResponseCache(backend Cache, ttl time.Duration, maxEntries int, maxBytes int64) *ResponseCache {
	return &ResponseCache{
		backend:  backend,
		ttl:      ttl,
		maxSize:  maxEntries,
		maxBytes: maxBytes,
		index:    make(map[string]*entryMeta),
	}
}

// Serve answers an eligible GET from cache. It returns true if it wrote a
// response (200 hit or 304), false on a miss.
func (c *ResponseCache) Serve(w http.ResponseWriter, r *http.Request) bool {
	key := canonicalKey(r)

	c.mu.Lock()
	meta, ok := c.index[key]
	if ok && time.Now().After(meta.expiresAt) {
		c.evictLocked(key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	if matchesIfNoneMatch(r.Header.Get("If-None-Match"), meta.etag) {
		w.Header().Set("ETag", meta.etag)
		w.Header().Set("X-Cache", "HIT")
		w.WriteHeader(http.StatusNotModified)
		return true
	}

	body, err := c.backend.Get(r.Context(), key)
	if err != nil {
		c.mu.Lock()
		c.evictLocked(key)
		c.mu.Unlock()
		return false
	}

	w.Header().Set("Content-Type", meta.contentType)
	w.Header().Set("ETag", meta.etag)
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(c.ttl.Seconds())))
	w.Header().Set("X-Cache", "HIT")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
	return true
}

// Store records a freshly generated cacheable response under its canonical
// key, computing the response's weak ETag.
func (c *ResponseCache) Store(r *http.Request, contentType string, body []byte) {
	base, _, _ := strings.Cut(contentType, ";")
	if !cacheableContentTypes[strings.TrimSpace(base)] {
		return
	}

	key := canonicalKey(r)
	etag := weakETag(body)

	if err := c.backend.Set(r.Context(), key, body, c.ttl); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.index[key]; ok {
		c.curSize -= int64(old.size)
	}
	c.index[key] = &entryMeta{
		contentType: contentType,
		etag:        etag,
		size:        len(body),
		expiresAt:   time.Now().Add(c.ttl),
	}
	c.curSize += int64(len(body))
	c.enforceLimitsLocked()
}

// Invalidate clears every entry (spec.md §4.7's coarse invalidation on any
// state-changing request).
func (c *ResponseCache) Invalidate() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.index))
	for k := range c.index {
		keys = append(keys, k)
	}
	c.index = make(map[string]*entryMeta)
	c.curSize = 0
	c.mu.Unlock()

	ctx := context.Background()
	for _, k := range keys {
		c.backend.Delete(ctx, k)
	}
}

// enforceLimitsLocked evicts arbitrary entries (oldest key order is not
// tracked; any eviction restores the invariant) until both max_entries and
// max_bytes are satisfied. Callers hold c.mu.
func (c *ResponseCache) enforceLimitsLocked() {
	for (c.maxSize > 0 && len(c.index) > c.maxSize) || (c.maxBytes > 0 && c.curSize > c.maxBytes) {
		var victim string
		for k := range c.index {
			victim = k
			break
		}
		if victim == "" {
			return
		}
		c.evictLocked(victim)
	}
}

// evictLocked drops key from the index; callers hold c.mu. The backend
// delete happens best-effort and out of band since it may block on I/O
// (e.g. Redis) and must not run under this lock.
func (c *ResponseCache) evictLocked(key string) {
	meta, ok := c.index[key]
	if !ok {
		return
	}
	c.curSize -= int64(meta.size)
	delete(c.index, key)
	go c.backend.Delete(context.Background(), key)
}

// canonicalKey renders spec.md §4.7's cache key fingerprint:
// "path | sorted(query k=v) | Accept".
func canonicalKey(r *http.Request) string {
	values := r.URL.Query()
	pairs := make([]string, 0, len(values))
	for k, vs := range values {
		sort.Strings(vs)
		for _, v := range vs {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)
	return r.URL.Path + "|" + strings.Join(pairs, "&") + "|" + r.Header.Get("Accept")
}

// weakETag computes a content-addressed weak ETag from the body's length
// plus head/tail samples, bounding hashing cost for large payloads (Design
// Notes §9).
func weakETag(body []byte) string {
	const sampleSize = 4096
	h := sha256.New()
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(body)))
	h.Write(lenBuf[:])

	if len(body) <= 2*sampleSize {
		h.Write(body)
	} else {
		h.Write(body[:sampleSize])
		h.Write(body[len(body)-sampleSize:])
	}
	return `W/"` + hex.EncodeToString(h.Sum(nil))[:32] + `"`
}

// matchesIfNoneMatch reports whether header (an If-None-Match value, which
// may be a comma-separated list or "*") matches etag.
func matchesIfNoneMatch(header, etag string) bool {
	if header == "" {
		return false
	}
	if strings.TrimSpace(header) == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimSpace(candidate) == etag {
			return true
		}
	}
	return false
}
