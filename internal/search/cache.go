package search

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
	pkgredis "github.com/pankaj28843/docs-mcp-server/pkg/redis"
)

const (
	keyPrefix = "docsearch:search:"

	// DefaultComputeTimeout bounds a shared computation once it is detached
	// from the caller that started it.
	DefaultComputeTimeout = 10 * time.Second
)

// Cache memoises search responses. Keys embed the snapshot generation, so a
// publish makes older entries unreachable; InvalidateTenant reclaims them.
type Cache interface {
	GetOrCompute(ctx context.Context, tenantID, key string, compute func(ctx context.Context) (*Response, error)) (*Response, bool, error)
	InvalidateTenant(ctx context.Context, tenantID string) error
}

// KV is the subset of the redis client the cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

var _ KV = (*pkgredis.Client)(nil)

type RedisCache struct {
	kv             KV
	ttl            time.Duration
	computeTimeout time.Duration
	group          singleflight.Group
	logger         *slog.Logger
}

func NewRedisCache(kv KV, ttl time.Duration) *RedisCache {
	return &RedisCache{
		kv:             kv,
		ttl:            ttl,
		computeTimeout: DefaultComputeTimeout,
		logger:         slog.Default().With("component", "query-cache"),
	}
}

func (c *RedisCache) get(ctx context.Context, key string) (*Response, bool) {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		c.logger.Warn("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &resp, true
}

func (c *RedisCache) set(ctx context.Context, key string, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.kv.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response for key or computes it once,
// however many callers ask concurrently. Cache failures degrade to compute.
// compute runs detached from ctx under its own deadline, so a caller that
// gives up does not fail the others waiting on the same key.
func (c *RedisCache) GetOrCompute(ctx context.Context, tenantID, key string, compute func(ctx context.Context) (*Response, error)) (*Response, bool, error) {
	full := buildKey(tenantID, key)
	if resp, ok := c.get(ctx, full); ok {
		return resp, true, nil
	}
	ch := c.group.DoChan(full, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
		defer cancel()
		if resp, ok := c.get(shared, full); ok {
			return resp, nil
		}
		resp, err := compute(shared)
		if err != nil {
			return nil, apperrors.Classify(err, apperrors.ErrInternal)
		}
		c.set(shared, full, resp)
		return resp, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, false, apperrors.Classify(ctx.Err(), apperrors.ErrInternal)
	}
	if res.Err != nil {
		return nil, false, res.Err
	}
	// Callers may adjust the response; hand each its own copy.
	shared := res.Val.(*Response)
	out := *shared
	out.Results = append([]Result(nil), shared.Results...)
	return &out, false, nil
}

func (c *RedisCache) InvalidateTenant(ctx context.Context, tenantID string) error {
	deleted, err := c.kv.FlushByPattern(ctx, keyPrefix+tenantID+":*")
	if err != nil {
		return fmt.Errorf("invalidating cache for %s: %w", tenantID, err)
	}
	c.logger.Debug("cache invalidated", "tenant", tenantID, "keys_deleted", deleted)
	return nil
}

func buildKey(tenantID, key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s%s:%x", keyPrefix, tenantID, hash[:16])
}
