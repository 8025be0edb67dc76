package repositories

import (
	"context"
	"time"

	"meetroom/internal/core/ports"
	"meetroom/internal/infrastructure/repositories/memory"
	redisrepo "meetroom/internal/infrastructure/repositories/redis"
	"meetroom/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories, falling back to memory when
// Redis is disabled or unreachable.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	cacheTTL    time.Duration
	caches      []*CachedMeetingRepository
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		cacheTTL: cfg.Redis.MeetingCacheTTL,
		logger:   logger,
	}

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

// CreateMeetingRepository returns the Redis repository, fronted by an
// in-process cache when redis.meeting_cache_ttl is set, or the memory one.
func (f *RepositoryFactory) CreateMeetingRepository() ports.MeetingRepository {
	if !f.useRedis || f.redisClient == nil {
		return memory.NewMemoryMeetingRepository()
	}
	repo := redisrepo.NewRedisMeetingRepository(f.redisClient)
	if f.cacheTTL <= 0 {
		return repo
	}
	cached := NewCachedMeetingRepository(repo, f.cacheTTL)
	f.caches = append(f.caches, cached)
	return cached
}

// RedisClient is the shared connection, nil when running on memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	for _, c := range f.caches {
		c.Close()
	}
	f.caches = nil
	if f.redisClient != nil {
		err := redisrepo.CloseRedisClient(f.redisClient)
		f.redisClient = nil
		return err
	}
	return nil
}

// HealthCheck pings Redis when it is in use.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
