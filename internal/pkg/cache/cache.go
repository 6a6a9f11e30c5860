package cache

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ManuelReschke/Taskly/internal/pkg/env"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var (
	client *redis.Client
	rs     *redsync.Redsync
	rsOnce sync.Once
	ctx    = context.Background()
)

// SetupCache initializes the connection to the Redis server backing the job queue
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	})
	rs = nil
	rsOnce = sync.Once{}

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to Redis: %v", err)
	} else {
		log.Printf("Successfully connected to Redis: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// GetRedsync returns a distributed lock factory sharing the cache connection.
func GetRedsync() *redsync.Redsync {
	c := GetClient()
	rsOnce.Do(func() {
		rs = redsync.New(goredis.NewPool(c))
	})
	return rs
}
