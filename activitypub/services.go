package activitypub

import (
	"context"
	"net/http"
	"time"
)

const userAgent = "gomphos/0.1 ActivityPub"

// Job types handled by the background queue.
const (
	JobLinkCrawl     = "link_crawl"
	JobPollExpiry    = "poll_expiry"
	JobAccountPurge  = "account_purge"
	JobKeywordFilter = "keyword_filter"
	JobDistribute    = "distribute"
)

// Locker hands out short leases keyed by string. Satisfied by
// redisx.LockService.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, f func() error) error
}

// Jobs enqueues background work. Satisfied by redisx.Queue.
type Jobs interface {
	Enqueue(ctx context.Context, jobType string, args map[string]string) error
	EnqueueIn(ctx context.Context, jobType string, args map[string]string, delay time.Duration) error
	EnqueueUnique(ctx context.Context, jobType string, args map[string]string, uniqueKey string, ttl time.Duration) error
}

// EventPublisher emits federation events onto the stream. Satisfied by
// stream.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, key string, payload interface{}) error
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}
