package checkpoint

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a backend: memory, redis or sql.
type Config struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
	SQL     SQLConfig   `mapstructure:"sql"`
}

// Open builds the configured store
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		logger.Warn("Using in-memory checkpoint store; runs will not survive a restart")
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, cfg.Redis, logger)
	case "sql":
		return NewSQLStore(ctx, cfg.SQL, logger)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}
