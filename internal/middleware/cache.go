package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/poster-tracker/internal/config"
)

// replayHeaders are the response headers stored with a cached position
// read.  Everything else is regenerated per request.
var replayHeaders = []string{
	echo.HeaderContentType,
	"Pagination-Current-Page",
	"Pagination-Per-Page",
	"Pagination-Total-Items",
	"Pagination-Total-Pages",
}

// cachedResponse is what a cache entry holds.
type cachedResponse struct {
	Status int               `json:"status"`
	Header map[string]string `json:"header"`
	Body   []byte            `json:"body"`
}

// bodyRecorder tees the response body into a buffer until limit bytes
// have been written; past that the response is marked uncacheable.
type bodyRecorder struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (r *bodyRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	if !r.overflow {
		if r.limit > 0 && r.buf.Len()+len(b) > r.limit {
			r.overflow = true
			r.buf.Reset()
		} else {
			r.buf.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}

// cacheKeyFrom derives the entry key of a read.  Query parameters are
// canonicalised so ?per=10&page=2 and ?page=2&per=10 share an entry.  The
// caller's role is part of the key and gen is the current generation, so
// a bumped generation never reads older entries.
func cacheKeyFrom(cfg config.CacheConfig, c echo.Context, gen int64) string {
	r := c.Request()
	var parts []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		parts = []string{"route", c.Path()}
	case "path":
		parts = []string{"path", r.URL.Path}
	default: // "route_query"
		parts = []string{"path", r.URL.Path, "q", r.URL.Query().Encode()}
	}
	if role, ok := c.Get("role").(string); ok {
		parts = append(parts, "role", role)
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "\x00")))
	return cfg.Prefix + ":g" + strconv.FormatInt(gen, 10) + ":" + hex.EncodeToString(sum[:])
}

func encodeCached(status int, h http.Header, body []byte) ([]byte, error) {
	cr := cachedResponse{Status: status, Header: map[string]string{}, Body: body}
	for _, k := range replayHeaders {
		if v := h.Get(k); v != "" {
			cr.Header[k] = v
		}
	}
	return json.Marshal(cr)
}

func decodeCached(bs []byte) (cachedResponse, bool) {
	var cr cachedResponse
	if err := json.Unmarshal(bs, &cr); err != nil || cr.Status == 0 {
		return cachedResponse{}, false
	}
	return cr, true
}

const cacheUntilKey = "cache_until"

// CacheUntil tells NewRedisCache that the response being built is only
// valid until t.  The entry TTL is capped so a cached read never outlives
// a status that changes with time; a t already in the past keeps the
// response out of the cache.  Repeated calls keep the earliest t.
func CacheUntil(c echo.Context, t time.Time) {
	if prev, ok := c.Get(cacheUntilKey).(time.Time); ok && !t.Before(prev) {
		return
	}
	c.Set(cacheUntilKey, t)
}

// entryTTL is the lifetime of the entry for c: the configured ttl, capped
// by any CacheUntil deadline.
func entryTTL(c echo.Context, ttl time.Duration, now time.Time) time.Duration {
	if until, ok := c.Get(cacheUntilKey).(time.Time); ok {
		if left := until.Sub(now); left < ttl {
			return left
		}
	}
	return ttl
}

// currentGeneration reads the generation counter; a missing key is
// generation 0.
func currentGeneration(ctx context.Context, cfg config.CacheConfig, rdb *redis.Client) (int64, error) {
	gen, err := rdb.Get(ctx, cfg.GenerationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// NewRedisCache serves repeated position reads from Redis.  Only 200
// responses are stored, for cfg.TTL or until the CacheUntil deadline set
// by the handler, whichever comes first.  Redis failures fall through to
// the handler.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Caches(c.Request().Method) {
				return next(c)
			}
			ctx := c.Request().Context()
			gen, err := currentGeneration(ctx, cfg, rdb)
			if err != nil {
				Logger(c).WithError(err).Warn("cache generation lookup failed")
				return next(c)
			}
			key := cacheKeyFrom(cfg, c, gen)

			bs, err := rdb.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				if cr, ok := decodeCached(bs); ok {
					h := c.Response().Header()
					for k, v := range cr.Header {
						h.Set(k, v)
					}
					h.Set("X-Cache", "HIT")
					return c.Blob(cr.Status, cr.Header[echo.HeaderContentType], cr.Body)
				}
			case !errors.Is(err, redis.Nil):
				Logger(c).WithError(err).Warn("cache read failed")
			}

			rec := &bodyRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
			c.Response().Writer = rec
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if rec.status != http.StatusOK || rec.overflow {
				return nil
			}
			life := entryTTL(c, ttl, time.Now())
			if life < time.Millisecond {
				return nil
			}
			payload, err := encodeCached(rec.status, c.Response().Header(), rec.buf.Bytes())
			if err != nil {
				return nil
			}
			if err := rdb.Set(context.Background(), key, payload, life).Err(); err != nil {
				Logger(c).WithError(err).Warn("cache store failed")
			}
			return nil
		}
	}
}

// InvalidateOnWrite bumps the cache generation after every successful
// request whose method is not cached, so the next read of any position
// list or detail misses and sees the change.
func InvalidateOnWrite(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if cfg.Caches(c.Request().Method) || err != nil {
				return err
			}
			if status := c.Response().Status; status < 200 || status >= 300 {
				return nil
			}
			if ierr := rdb.Incr(context.Background(), cfg.GenerationKey()).Err(); ierr != nil {
				Logger(c).WithError(ierr).Warn("cache invalidation failed")
			}
			return nil
		}
	}
}
