package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

// RedisConfig configures the Redis backend
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RedisStore keeps each run as a JSON string under <prefix>run:<id> plus a
// set indexing the known run IDs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects and pings Redis
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg, logger), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient, cfg RedisConfig, logger *zap.Logger) *RedisStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "planner:"
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *RedisStore) key(runID string) string { return r.prefix + "run:" + runID }
func (r *RedisStore) indexKey() string         { return r.prefix + "runs" }

func (r *RedisStore) Save(ctx context.Context, st *state.RunState) (err error) {
	defer func() { observe("redis", "save", err) }()
	b, err := encode(st)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key(st.RunID), b, r.ttl)
		p.SAdd(ctx, r.indexKey(), st.RunID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", st.RunID, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, runID string) (st *state.RunState, err error) {
	defer func() { observe("redis", "load", err) }()
	b, err := r.client.Get(ctx, r.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", runID, err)
	}
	return decode(runID, b)
}

func (r *RedisStore) Delete(ctx context.Context, runID string) (err error) {
	defer func() { observe("redis", "delete", err) }()
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.key(runID))
		p.SRem(ctx, r.indexKey(), runID)
		return nil
	})
	return err
}

// List drops index entries whose checkpoint has expired.
func (r *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	sort.Strings(ids)

	live := ids[:0]
	for _, id := range ids {
		n, err := r.client.Exists(ctx, r.key(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			r.logger.Debug("Pruning expired checkpoint from index", zap.String("run_id", id))
			r.client.SRem(ctx, r.indexKey(), id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }
func (r *RedisStore) Close() error                   { return r.client.Close() }
