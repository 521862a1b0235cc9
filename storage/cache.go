package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"admin-approvals/domain"
)

const adminsCacheKey = "admins"

// Cache wraps a store with a Redis-backed copy of the admin roster. Writes
// that can change the roster evict it.
type Cache struct {
	domain.Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching store wrapper using the provided Redis client and TTL.
func NewCache(base domain.Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Store: base, redis: client, ttl: ttl}
}

func (c *Cache) ListAdmins(ctx context.Context, excluding string) ([]domain.Actor, error) {
	admins, ok := c.loadAdminsFromCache(ctx)
	if !ok {
		var err error
		admins, err = c.Store.ListAdmins(ctx, "")
		if err != nil {
			return nil, err
		}
		c.storeAdmins(ctx, admins)
	}
	out := make([]domain.Actor, 0, len(admins))
	for _, a := range admins {
		if a.ID != excluding {
			out = append(out, a)
		}
	}
	return out, nil
}

func (c *Cache) CreateActor(ctx context.Context, attrs domain.NewActor) (domain.Actor, error) {
	a, err := c.Store.CreateActor(ctx, attrs)
	if err != nil {
		return domain.Actor{}, err
	}
	if a.IsAdmin {
		c.Evict(ctx)
	}
	return a, nil
}

func (c *Cache) UpdateActor(ctx context.Context, id string, upd domain.ActorUpdate) error {
	if err := c.Store.UpdateActor(ctx, id, upd); err != nil {
		return err
	}
	c.Evict(ctx)
	return nil
}

func (c *Cache) DeleteActor(ctx context.Context, id string) error {
	if err := c.Store.DeleteActor(ctx, id); err != nil {
		return err
	}
	c.Evict(ctx)
	return nil
}

// Atomic evicts the roster after a committed transaction, since approved
// actions may have changed it.
func (c *Cache) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := c.Store.Atomic(ctx, fn); err != nil {
		return err
	}
	c.Evict(ctx)
	return nil
}

// Evict drops the cached roster.
func (c *Cache) Evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, adminsCacheKey).Err()
}

func (c *Cache) loadAdminsFromCache(ctx context.Context) ([]domain.Actor, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, adminsCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, adminsCacheKey).Err()
		}
		return nil, false
	}
	var admins []domain.Actor
	if err := sonic.Unmarshal(data, &admins); err != nil {
		_ = c.redis.Del(ctx, adminsCacheKey).Err()
		return nil, false
	}
	return admins, true
}

func (c *Cache) storeAdmins(ctx context.Context, admins []domain.Actor) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(admins)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, adminsCacheKey, data, c.ttl).Err()
}
