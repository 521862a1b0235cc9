package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevocations keeps revoked token ids in Redis until the token would
// have expired anyway, so every API instance rejects logged-out tokens.
type TokenRevocations struct {
	client *redis.Client
}

// NewTokenRevocations creates a revocation list backed by client.
func NewTokenRevocations(client *redis.Client) *TokenRevocations {
	return &TokenRevocations{client: client}
}

// Revoke marks tokenID as revoked until expiresAt.
func (t *TokenRevocations) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return t.client.Set(ctx, revokedTokenKey(tokenID), 1, ttl).Err()
}

// IsRevoked reports whether tokenID has been revoked.
func (t *TokenRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := t.client.Exists(ctx, revokedTokenKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func revokedTokenKey(tokenID string) string {
	return "revoked-token:" + tokenID
}
