package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type ClientOptions struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	// OperationTimeout bounds every read and write; history calls are small.
	OperationTimeout time.Duration
}

// NewClient opens a pooled client and pings it once under ctx. The client is
// closed again when the ping fails.
func NewClient(ctx context.Context, opts ClientOptions, logger *zap.SugaredLogger) (*redis.Client, error) {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:            opts.Address,
		Password:        opts.Password,
		DB:              opts.DB,
		PoolSize:        opts.PoolSize,
		DialTimeout:     2 * opts.OperationTimeout,
		ReadTimeout:     opts.OperationTimeout,
		WriteTimeout:    opts.OperationTimeout,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Address, err)
	}

	if logger != nil {
		logger.Infow("connected to Redis", "address", opts.Address, "db", opts.DB, "pool_size", opts.PoolSize)
	}
	return client, nil
}
