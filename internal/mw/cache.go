package mw

import (
	"bytes"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

type cachedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

type bodyCacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyCacheWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w bodyCacheWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// TagFunc returns the invalidation tag for a request; "" disables caching.
type TagFunc func(c *gin.Context) string

// ResponseCache caches GET responses under a tag so that every entry of a
// tag can be dropped when the underlying data changes.
type ResponseCache struct {
	store    *cache.Cache
	duration time.Duration

	mu sync.Mutex
	// generations counts invalidations per tag; a response rendered under an
	// older generation is not stored.
	generations map[string]uint64
}

// NewResponseCache creates a cache whose entries live for duration.
func NewResponseCache(duration time.Duration) *ResponseCache {
	return &ResponseCache{
		store:       cache.New(duration, 2*duration),
		duration:    duration,
		generations: make(map[string]uint64),
	}
}

func cacheKey(tag, uri string) string {
	return tag + "|" + uri
}

// Invalidate drops every cached response stored under tag.
func (rc *ResponseCache) Invalidate(tag string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.generations[tag]++

	prefix := cacheKey(tag, "")
	for key := range rc.store.Items() {
		if strings.HasPrefix(key, prefix) {
			rc.store.Delete(key)
		}
	}
}

func (rc *ResponseCache) generation(tag string) uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.generations[tag]
}

// storeIfCurrent keeps resp unless tag was invalidated since gen was read.
func (rc *ResponseCache) storeIfCurrent(tag string, gen uint64, key string, resp cachedResponse) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.generations[tag] != gen {
		return
	}
	rc.store.Set(key, resp, rc.duration)
}

// Len returns the number of live entries.
func (rc *ResponseCache) Len() int {
	return rc.store.ItemCount()
}

// Middleware is a middleware for in-memory caching of GET requests.
func (rc *ResponseCache) Middleware(tagOf TagFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		tag := tagOf(c)
		if tag == "" {
			c.Next()
			return
		}

		key := cacheKey(tag, c.Request.RequestURI)
		if resp, found := rc.store.Get(key); found {
			cached := resp.(cachedResponse)
			for k, v := range cached.headers {
				c.Writer.Header()[k] = v
			}
			c.Writer.Header().Set("X-Cache", "HIT")
			c.Writer.WriteHeader(cached.status)
			c.Writer.Write(cached.body)
			c.Abort()
			return
		}

		gen := rc.generation(tag)
		blw := &bodyCacheWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		// Only cache successful responses
		if blw.Status() >= 200 && blw.Status() < 300 {
			response := cachedResponse{
				status: blw.Status(),
				// Make a copy of the header map.
				headers: blw.Header().Clone(),
				body:    blw.body.Bytes(),
			}
			rc.storeIfCurrent(tag, gen, key, response)
		}
	}
}
