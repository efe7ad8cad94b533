package cache

import (
	"fmt"

	"github.com/shiplabel/backend/internal/application/labels"
	"github.com/shiplabel/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// RateCacheFactory creates rate caches based on configuration
type RateCacheFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// RateCacheFactoryOption is a functional option for configuring the factory
type RateCacheFactoryOption func(*RateCacheFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) RateCacheFactoryOption {
	return func(f *RateCacheFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory
// cache when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) RateCacheFactoryOption {
	return func(f *RateCacheFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewRateCacheFactory creates a new factory
func NewRateCacheFactory(cfg config.RedisConfig, opts ...RateCacheFactoryOption) *RateCacheFactory {
	f := &RateCacheFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create builds the rate cache: Redis when reachable, otherwise the
// in-memory cache when fallback is allowed
func (f *RateCacheFactory) Create() (labels.RateCache, error) {
	cache, err := NewRedisRateCache(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err == nil {
		f.logger.Info("using Redis rate cache",
			zap.String("host", f.redisConfig.Host),
			zap.Int("port", f.redisConfig.Port),
		)
		return cache, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis rate cache unavailable: %w", err)
	}
	f.logger.Warn("Redis unavailable, using in-memory rate cache", zap.Error(err))
	return NewInMemoryRateCache(), nil
}
