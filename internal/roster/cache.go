package roster

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightboard/safety-gate/internal/message"
)

const (
	// CachePrefix is the Redis key prefix for cached profiles.
	CachePrefix = "roster:profile:"

	// DefaultCacheTTL bounds how stale a cached profile may be.
	DefaultCacheTTL = 5 * time.Minute
)

// cachedProfile is the Redis hash layout of a Profile.
type cachedProfile struct {
	Role       string `redis:"role"`
	IsMinor    bool   `redis:"is_minor"`
	OwnerID    string `redis:"owner_id"`
	StrictMode bool   `redis:"strict_mode"`
}

// CachedDirectory caches profiles in Redis hashes in front of another
// Directory. Authorization and ownership lookups are never cached.
type CachedDirectory struct {
	next   Directory
	client *redis.Client
	ttl    time.Duration
}

// NewCachedDirectory wraps next. A zero ttl selects DefaultCacheTTL.
func NewCachedDirectory(next Directory, client *redis.Client, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedDirectory{next: next, client: client, ttl: ttl}
}

func cacheKey(senderID, roomID string) string {
	return CachePrefix + roomID + ":" + senderID
}

// Profile returns the cached profile, filling the cache on a miss. Redis
// errors fall through to the underlying directory.
func (d *CachedDirectory) Profile(ctx context.Context, senderID, roomID string) (Profile, error) {
	key := cacheKey(senderID, roomID)

	var cp cachedProfile
	res := d.client.HGetAll(ctx, key)
	if err := res.Err(); err != nil {
		log.Printf("[roster] redis HGETALL error key=%s: %v (bypassing cache)", key, err)
	} else if len(res.Val()) > 0 {
		if err := res.Scan(&cp); err == nil {
			return Profile{
				Role:       message.Role(cp.Role),
				IsMinor:    cp.IsMinor,
				OwnerID:    cp.OwnerID,
				StrictMode: cp.StrictMode,
			}, nil
		}
	}

	p, err := d.next.Profile(ctx, senderID, roomID)
	if err != nil {
		return p, err
	}

	pipe := d.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"role":        string(p.Role),
		"is_minor":    p.IsMinor,
		"owner_id":    p.OwnerID,
		"strict_mode": p.StrictMode,
	})
	pipe.Expire(ctx, key, d.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[roster] redis cache fill error key=%s: %v", key, err)
	}
	return p, nil
}

// CanReview implements Directory by delegating.
func (d *CachedDirectory) CanReview(ctx context.Context, reviewerID, roomID, senderID string) (bool, error) {
	return d.next.CanReview(ctx, reviewerID, roomID, senderID)
}

// RoomOwner implements Directory by delegating.
func (d *CachedDirectory) RoomOwner(ctx context.Context, roomID string) (string, error) {
	return d.next.RoomOwner(ctx, roomID)
}

// OwnedRooms implements Directory by delegating.
func (d *CachedDirectory) OwnedRooms(ctx context.Context, ownerID string) ([]string, error) {
	return d.next.OwnedRooms(ctx, ownerID)
}
