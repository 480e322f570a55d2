package redisx

import (
	"context"
	"time"

	"github.com/gomphos/gomphos/util"
	"github.com/redis/go-redis/v9"
)

// NewClient builds a redis client from the app config and does one
// Ping health check.
func NewClient(conf *util.AppConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         conf.Conf.RedisAddr,
		DB:           conf.Conf.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}
