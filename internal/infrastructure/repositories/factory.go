package repositories

import (
	"context"
	"time"

	"cdnpulse/internal/core/ports"
	"cdnpulse/internal/infrastructure/repositories/memory"
	redisrepo "cdnpulse/internal/infrastructure/repositories/redis"
	"cdnpulse/pkg/config"
	"cdnpulse/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates the history store with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled, retrying briefly,
// and falls back to memory when it cannot.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		retryCfg := retry.DefaultConfig()
		retryCfg.MaxAttempts = 2
		retryCfg.InitialDelay = 250 * time.Millisecond

		client, err := retry.Do(ctx, retryCfg, func(ctx context.Context) (*redis.Client, error) {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return redisrepo.NewClient(pingCtx, redisrepo.ClientOptions{
				Address:          cfg.Redis.Address,
				Password:         cfg.Redis.Password,
				DB:               cfg.Redis.DB,
				PoolSize:         cfg.Redis.PoolSize,
				OperationTimeout: cfg.Store.OperationTimeout,
			}, logger)
		})
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory history store",
				"error", err,
				"address", cfg.Redis.Address,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis history store")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory history store")
	}

	return factory
}

// UsingRedis reports whether history is durable across restarts.
func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// CreateHistoryStore creates a history store (Redis or memory with fallback)
func (f *RepositoryFactory) CreateHistoryStore() ports.HistoryStore {
	if f.UsingRedis() {
		return redisrepo.NewRedisHistoryStore(f.redisClient)
	}
	return memory.NewMemoryHistoryStore()
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsingRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
