package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cdp-api/pkg/middleware/requestid"
)

const responseMetaKey = "response_meta"

// responseMeta collects envelope metadata while a handler runs.
type responseMeta struct {
	started  time.Time
	cacheHit *bool
}

// WithResponseMeta starts the clock for processing_time_ms and enables the
// cache_hit flag on the response envelope.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(responseMetaKey, &responseMeta{started: time.Now()})
		c.Next()
	}
}

// SetCacheHit records whether the payload came from the cache.
func SetCacheHit(c *gin.Context, hit bool) {
	meta := metaFrom(c)
	if meta == nil {
		meta = &responseMeta{}
		c.Set(responseMetaKey, meta)
	}
	meta.cacheHit = &hit
}

// ExtractMeta builds the envelope meta map. It must be called before the body
// is written, so the elapsed time covers the handler work.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	meta := metaFrom(c)
	if meta == nil {
		return nil
	}
	out := make(map[string]interface{}, 3)
	if meta.cacheHit != nil {
		out["cache_hit"] = *meta.cacheHit
	}
	if !meta.started.IsZero() {
		out["processing_time_ms"] = time.Since(meta.started).Milliseconds()
	}
	if id := requestid.Value(c); id != "" {
		out["request_id"] = id
	}
	return out
}

func metaFrom(c *gin.Context) *responseMeta {
	if c == nil {
		return nil
	}
	if v, ok := c.Get(responseMetaKey); ok {
		if meta, ok := v.(*responseMeta); ok {
			return meta
		}
	}
	return nil
}
