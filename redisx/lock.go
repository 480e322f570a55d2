package redisx

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gomphos/gomphos/domain"
	"github.com/gomphos/gomphos/util"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lock only when the stored token still
// belongs to us, so an expired lease taken over by another worker is
// never released from here.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockService hands out short non-blocking leases on string keys.
type LockService struct {
	client *redis.Client
}

func NewLockService(client *redis.Client) *LockService {
	return &LockService{client: client}
}

// WithLock runs f while holding "lock:"+key. When the lock is already
// held elsewhere it returns domain.ErrRaceCondition without running f.
func (l *LockService) WithLock(ctx context.Context, key string, ttl time.Duration, f func() error) error {
	lockKey := "lock:" + key
	token := util.RandomString(16)

	ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrRaceCondition
	}

	defer func() {
		if _, err := releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{lockKey}, token).Result(); err != nil && !errors.Is(err, redis.Nil) {
			log.Printf("Lock: could not release %s: %v", lockKey, err)
		}
	}()

	return f()
}
