package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dipeo/dipeo/common/logger"
)

const connectTimeout = 5 * time.Second

// Connect opens a redis client and verifies the connection with a ping.
// Callers own the returned client and must Close it on shutdown.
func Connect(ctx context.Context, addr, password string, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", addr, err)
	}

	log.Info("redis connected", "addr", addr)
	return client, nil
}
