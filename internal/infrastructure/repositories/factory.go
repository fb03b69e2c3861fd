package repositories

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gridsync/internal/core/ports"
	"gridsync/internal/infrastructure/repositories/memory"
	redisrepo "gridsync/internal/infrastructure/repositories/redis"
	"gridsync/pkg/config"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	// Try to connect to Redis if enabled
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateMembershipRepository creates a membership repository (Redis or memory with fallback)
func (f *RepositoryFactory) CreateMembershipRepository() ports.MembershipRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisMembershipRepository(f.redisClient)
	}
	return memory.NewMemoryMembershipRepository()
}

// CreateRecordRepository creates a record repository (Redis or memory with fallback)
func (f *RepositoryFactory) CreateRecordRepository() ports.RecordRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisRecordRepository(f.redisClient)
	}
	return memory.NewMemoryRecordRepository()
}

// RedisClient exposes the shared client for components that need pub/sub.
// Nil when running on memory repositories.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// HealthCheck pings the backing store. Memory repositories are always
// healthy.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

// Close releases the factory's connections.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}
