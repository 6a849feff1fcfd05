package config

// Redis backs the session snapshot store and the delayed-task scheduler.
// When the server cannot reach Redis at startup the constructor returns nil
// and callers fall back to the in-memory scheduler and snapshot store,
// which keeps the room usable at the cost of losing state across restarts.

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 2 * time.Second

// NewRedisClient builds a Redis client from REDIS_HOST/REDIS_PORT (or the
// REDIS_ADDR shorthand), REDIS_PASSWORD, REDIS_DB and REDIS_TLS.  Returns
// nil if the server does not answer a ping within two seconds.
func NewRedisClient() *redis.Client {
	client := redis.NewClient(redisOptions())
	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}

func redisOptions() *redis.Options {
	opts := &redis.Options{
		Addr:     getenv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	}
	if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
		opts.Addr = host + ":" + port
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if n, err := strconv.Atoi(dbStr); err == nil {
			opts.DB = n
		}
	}
	if tlsEnv := os.Getenv("REDIS_TLS"); strings.EqualFold(tlsEnv, "true") || tlsEnv == "1" {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return opts
}
