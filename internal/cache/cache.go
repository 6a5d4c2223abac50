package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// storeScript writes a loaded value only if the key was not invalidated while
// it loaded. KEYS[1] is the value key, KEYS[2] its generation counter.
var storeScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if (gen or '') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Cache is a read-through cache in front of redis. Concurrent misses for the
// same key share one load. A nil client turns every lookup into a direct load.
//
// Each key has a generation counter bumped by Invalidate. A load only stores
// its result when the generation it started under is still current, so a value
// computed before an invalidation never outlives it.
type Cache struct {
	rdb    *redis.Client
	sf     singleflight.Group
	logger *zap.Logger
}

// New wraps rdb, which may be nil.
func New(rdb *redis.Client, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{rdb: rdb, logger: logger}
}

// GetOrLoad returns the cached bytes for key, calling load on a miss and
// storing its result for ttl. Redis failures are logged and fall through to load.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error) {
	gen, cacheable := c.lookupGeneration(ctx, key)
	if c.rdb != nil && cacheable {
		b, err := c.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			return b, nil
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
			cacheable = false
		}
	}

	// loads started under an older generation are not shared with newer readers
	v, err, _ := c.sf.Do(key+"#"+gen, func() (any, error) {
		b, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if cacheable && ttl > 0 {
			c.store(ctx, key, gen, b, ttl)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops key and bumps its generation so in-flight loads do not
// write back what they read before the change.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if c.rdb == nil {
		return
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(key))
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		c.logger.Warn("cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}

// lookupGeneration must run before the value read: a generation read after it
// could already include an invalidation the value predates.
func (c *Cache) lookupGeneration(ctx context.Context, key string) (string, bool) {
	if c.rdb == nil {
		return "", false
	}
	gen, err := c.rdb.Get(ctx, generationKey(key)).Result()
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, redis.Nil):
		return "", true
	default:
		c.logger.Warn("cache generation read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
}

func (c *Cache) store(ctx context.Context, key, gen string, b []byte, ttl time.Duration) {
	stored, err := storeScript.Run(ctx, c.rdb, []string{key, generationKey(key)}, gen, b, ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	if stored == 0 {
		c.logger.Debug("cache write skipped after invalidation", zap.String("key", key))
	}
}

func generationKey(key string) string {
	return key + ":gen"
}

// GetOrLoadJSON is GetOrLoad for values stored as JSON.
func GetOrLoadJSON[T any](
	ctx context.Context,
	c *Cache,
	key string,
	ttl time.Duration,
	load func(ctx context.Context) (T, error),
) (T, error) {
	var out T
	b, err := c.GetOrLoad(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, err
	}
	return out, nil
}
