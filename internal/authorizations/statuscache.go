package authorizations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// StatusCache serves authorization status summaries from redis with a short
// TTL, collapsing concurrent misses for the same client/service-type pair
// into a single ledger read. The cache is advisory; consume and release
// invalidate it so stale balances never outlive the TTL.
type StatusCache struct {
	service *Service
	client  *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// NewStatusCache builds a StatusCache. A nil redis client disables caching
// and reads pass straight through.
func NewStatusCache(service *Service, client *redis.Client, ttl time.Duration, logger *slog.Logger) *StatusCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StatusCache{service: service, client: client, ttl: ttl, logger: logger}
}

func statusKey(clientID, serviceTypeID int64) string {
	return fmt.Sprintf("authz:status:%d:%d", clientID, serviceTypeID)
}

// Status returns the aggregated summary, cached.
func (c *StatusCache) Status(ctx context.Context, clientID, serviceTypeID int64) (StatusSummary, error) {
	if c.client == nil {
		return c.service.Status(ctx, clientID, serviceTypeID)
	}
	key := statusKey(clientID, serviceTypeID)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var summary StatusSummary
		if err := json.Unmarshal(raw, &summary); err == nil {
			return summary, nil
		}
		// Corrupt payload: fall through to a fresh read.
		c.client.Del(ctx, key)
	}
	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		summary, err := c.service.Status(ctx, clientID, serviceTypeID)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(summary); err == nil {
			if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
				c.logger.Warn("cache authorization status", slog.Any("error", err))
			}
		}
		return summary, nil
	})
	if err != nil {
		return StatusSummary{}, err
	}
	return result.(StatusSummary), nil
}

// Invalidate drops the cached summary after a ledger mutation.
func (c *StatusCache) Invalidate(ctx context.Context, clientID, serviceTypeID int64) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, statusKey(clientID, serviceTypeID)).Err(); err != nil {
		c.logger.Warn("invalidate authorization status", slog.Any("error", err))
	}
}
