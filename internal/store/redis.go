package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions selects the Redis server backing cache, views and the compose queue.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Redis holds the shared client.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client with short command timeouts. Blocking pops on the compose
// queue carry their own wait, which go-redis adds on top of ReadTimeout.
func NewRedis(opts RedisOptions) *Redis {
	return &Redis{Client: redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MinIdleConns: 2,
	})}
}

// Healthy pings the server. A nil receiver is never healthy.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
