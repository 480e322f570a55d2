package redisx

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failuresPrefix = "delivery_failures:"

	// A host failing on this many distinct days is considered
	// unavailable until a delivery succeeds again.
	unavailableAfterDays = 7
)

// FailureTracker keeps one set of failure days per remote host.
type FailureTracker struct {
	client *redis.Client
}

func NewFailureTracker(client *redis.Client) *FailureTracker {
	return &FailureTracker{client: client}
}

func (f *FailureTracker) key(host string) string {
	return failuresPrefix + host
}

func (f *FailureTracker) TrackFailure(ctx context.Context, host string) {
	if host == "" {
		return
	}
	day := strconv.FormatInt(time.Now().Unix()/86400, 10)
	pipe := f.client.Pipeline()
	pipe.SAdd(ctx, f.key(host), day)
	pipe.Expire(ctx, f.key(host), (unavailableAfterDays+1)*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("FailureTracker: could not record failure for %s: %v", host, err)
	}
}

func (f *FailureTracker) TrackSuccess(ctx context.Context, host string) {
	if host == "" {
		return
	}
	if err := f.client.Del(ctx, f.key(host)).Err(); err != nil {
		log.Printf("FailureTracker: could not clear failures for %s: %v", host, err)
	}
}

func (f *FailureTracker) Unavailable(ctx context.Context, host string) bool {
	if host == "" {
		return false
	}
	days, err := f.client.SCard(ctx, f.key(host)).Result()
	if err != nil {
		return false
	}
	return days >= unavailableAfterDays
}
