package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Connect returns a redis client, or nil when addr is empty.
// A failed ping is logged but the client is still returned so callers degrade per request.
func Connect(addr, password string, db int, log *zap.Logger) *redis.Client {
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis ping failed", zap.String("addr", addr), zap.Error(err))
	} else {
		log.Info("connected to redis", zap.String("addr", addr))
	}

	return client
}
