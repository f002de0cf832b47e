package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "identity:"

// CachedDirectory keeps successful lookups in Redis. Failures are never
// cached, and a Redis outage falls through to the wrapped directory.
type CachedDirectory struct {
	next Directory
	rdb  *redis.Client
	ttl  time.Duration
	log  *slog.Logger
}

func NewCachedDirectory(next Directory, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDirectory{next: next, rdb: rdb, ttl: ttl, log: logger}
}

func (d *CachedDirectory) Lookup(ctx context.Context, studentID string) (Profile, error) {
	key := cacheKeyPrefix + studentID
	raw, err := d.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var profile Profile
		if err := json.Unmarshal(raw, &profile); err == nil {
			return profile, nil
		}
		d.log.Warn("identity cache entry unreadable", "key", key)
	case !errors.Is(err, redis.Nil):
		d.log.Warn("identity cache read failed", "error", err)
	}

	profile, err := d.next.Lookup(ctx, studentID)
	if err != nil {
		return Profile{}, err
	}
	if encoded, err := json.Marshal(profile); err == nil {
		if err := d.rdb.Set(ctx, key, encoded, d.ttl).Err(); err != nil {
			d.log.Warn("identity cache write failed", "error", err)
		}
	}
	return profile, nil
}
