package redisx

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// ScoredMember is one entry of a ranked set, highest score first when
// listed.
type ScoredMember struct {
	Member string
	Score  float64
}

// RankedSets stores scored rankings in redis sorted sets under a
// shared key prefix.
type RankedSets struct {
	client *redis.Client
	prefix string
}

func NewRankedSets(client *redis.Client, prefix string) *RankedSets {
	return &RankedSets{client: client, prefix: prefix}
}

func (r *RankedSets) key(set string) string {
	return r.prefix + ":" + set
}

func (r *RankedSets) Add(ctx context.Context, set, member string, score float64) error {
	return r.client.ZAdd(ctx, r.key(set), redis.Z{Score: score, Member: member}).Err()
}

func (r *RankedSets) Remove(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.ZRem(ctx, r.key(set), args...).Err()
}

// List returns up to limit members ordered by descending score. A
// limit of zero or below means all members.
func (r *RankedSets) List(ctx context.Context, set string, limit int64) ([]ScoredMember, error) {
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}
	zs, err := r.client.ZRevRangeWithScores(ctx, r.key(set), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, ScoredMember{Member: member, Score: z.Score})
	}
	return out, nil
}
