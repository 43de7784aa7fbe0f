package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "stream:active:"

// LockStore claims a per-conversation streaming slot via SETNX. The TTL is
// a backstop for a process that dies holding the claim; it must outlive
// the stream timeout.
type LockStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *LockStore {
	if ttl <= 0 {
		ttl = 6 * time.Minute
	}
	return &LockStore{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

// unlockScript deletes the claim only if this job still holds it, so a
// stale job finishing late cannot drop a newer job's claim.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (s *LockStore) TryAcquire(ctx context.Context, chatID, jobID string) (bool, error) {
	return s.rdb.SetNX(ctx, lockKeyPrefix+chatID, jobID, s.ttl).Result()
}

func (s *LockStore) Release(ctx context.Context, chatID, jobID string) {
	_ = unlockScript.Run(ctx, s.rdb, []string{lockKeyPrefix + chatID}, jobID).Err()
}

func (s *LockStore) Close() error {
	return s.rdb.Close()
}
