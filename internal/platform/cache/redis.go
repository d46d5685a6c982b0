package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options are the Redis connection settings.
type Options struct {
	Address  string
	Password string
	DB       int
}

// Redis wraps the client backing the alternate keyed-blob store.
type Redis struct {
	Client  *redis.Client
	Options Options
}

// Connect opens a client and verifies it with PING. Unlike the Postgres
// connection, an unreachable server is reported but the client is still
// returned so the engine can start degraded and recover later.
func Connect(options Options) (*Redis, error) {
	if options.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     options.Address,
		Password: options.Password,
		DB:       options.DB,
	})
	conn := &Redis{Client: client, Options: options}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return conn, fmt.Errorf("ping redis: %w", err)
	}
	return conn, nil
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	err := r.Client.Close()
	r.Client = nil
	return err
}
