package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gomphos/gomphos/domain"
	"github.com/redis/go-redis/v9"
)

const (
	readyKey     = "jobs:ready"
	scheduledKey = "jobs:scheduled"
	uniquePrefix = "jobs:unique:"

	// Jobs bounced off a busy lock come back after this delay.
	retryDelay = 30 * time.Second
	maxRetries = 10
)

// Job is the unit of background work. Args carry the handler's
// parameters, UniqueKey (optional) suppresses duplicate enqueues while
// an identical job is still in flight.
type Job struct {
	Id        string            `json:"id"`
	Type      string            `json:"type"`
	Args      map[string]string `json:"args"`
	UniqueKey string            `json:"unique_key,omitempty"`
	Retries   int               `json:"retries"`
}

// HandlerFunc processes one job. Returning domain.ErrRaceCondition
// reschedules the job instead of failing it.
type HandlerFunc func(ctx context.Context, job Job) error

// Queue is a redis-backed job queue with delayed scheduling. Ready
// jobs live in a list, future jobs in a sorted set keyed by run time.
type Queue struct {
	client   *redis.Client
	handlers map[string]HandlerFunc
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{
		client:   client,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a job type. Not safe to call after
// Start.
func (q *Queue) Register(jobType string, h HandlerFunc) {
	q.handlers[jobType] = h
}

// Enqueue pushes a job for immediate execution.
func (q *Queue) Enqueue(ctx context.Context, jobType string, args map[string]string) error {
	return q.push(ctx, Job{Id: uuid.NewString(), Type: jobType, Args: args}, 0)
}

// EnqueueIn pushes a job that becomes due after delay.
func (q *Queue) EnqueueIn(ctx context.Context, jobType string, args map[string]string, delay time.Duration) error {
	return q.push(ctx, Job{Id: uuid.NewString(), Type: jobType, Args: args}, delay)
}

// EnqueueUnique pushes a job unless another job with the same unique
// key is already waiting or running. The reservation expires with ttl
// as a safety net against crashed workers.
func (q *Queue) EnqueueUnique(ctx context.Context, jobType string, args map[string]string, uniqueKey string, ttl time.Duration) error {
	ok, err := q.client.SetNX(ctx, uniquePrefix+uniqueKey, "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return q.push(ctx, Job{Id: uuid.NewString(), Type: jobType, Args: args, UniqueKey: uniqueKey}, 0)
}

func (q *Queue) push(ctx context.Context, job Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if delay > 0 {
		return q.client.ZAdd(ctx, scheduledKey, redis.Z{
			Score:  float64(time.Now().Add(delay).Unix()),
			Member: raw,
		}).Err()
	}
	return q.client.LPush(ctx, readyKey, raw).Err()
}

// promoteScript atomically moves due jobs from the scheduled set to
// the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 100)
for _, job in ipairs(due) do
	redis.call("ZREM", KEYS[1], job)
	redis.call("LPUSH", KEYS[2], job)
end
return #due
`)

// Start runs the worker loop until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	go q.promoteLoop(ctx)

	log.Println("Queue: worker started")
	for {
		res, err := q.client.BRPop(ctx, 2*time.Second, readyKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				log.Println("Queue: worker stopped")
				return
			}
			log.Printf("Queue: pop failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			log.Printf("Queue: dropping malformed job: %v", err)
			continue
		}
		q.run(ctx, job)
	}
}

func (q *Queue) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			err := promoteScript.Run(ctx, q.client,
				[]string{scheduledKey, readyKey},
				now.Unix()).Err()
			if err != nil && !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				log.Printf("Queue: promote failed: %v", err)
			}
		}
	}
}

func (q *Queue) run(ctx context.Context, job Job) {
	handler, ok := q.handlers[job.Type]
	if !ok {
		log.Printf("Queue: no handler for job type %s", job.Type)
		q.releaseUnique(ctx, job)
		return
	}

	err := handler(ctx, job)
	switch {
	case err == nil:
		q.releaseUnique(ctx, job)
	case errors.Is(err, domain.ErrRaceCondition) && job.Retries < maxRetries:
		job.Retries++
		if raw, merr := json.Marshal(job); merr == nil {
			q.client.ZAdd(ctx, scheduledKey, redis.Z{
				Score:  float64(time.Now().Add(retryDelay).Unix()),
				Member: raw,
			})
		}
	default:
		log.Printf("Queue: job %s (%s) failed: %v", job.Id, job.Type, err)
		q.releaseUnique(ctx, job)
	}
}

func (q *Queue) releaseUnique(ctx context.Context, job Job) {
	if job.UniqueKey == "" {
		return
	}
	if err := q.client.Del(context.WithoutCancel(ctx), uniquePrefix+job.UniqueKey).Err(); err != nil {
		log.Printf("Queue: could not release unique key %s: %v", job.UniqueKey, err)
	}
}
