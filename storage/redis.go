package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alexpron/mri-processing/types"
)

const runPrefix = "dwirun:"

// RedisStore is a Redis-backed implementation of the RunStore interface.
// Reports survive process restarts, so a partially failed run can be
// inspected after the pipeline process has exited.
type RedisStore struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with the subset of configuration the
// pipeline runner exposes.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStore creates a new RedisStore instance and verifies connectivity.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStore{client: client}, nil
}

// SaveRun saves a run report to Redis as JSON.
func (s *RedisStore) SaveRun(ctx context.Context, report types.RunReport) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		data, err := json.Marshal(report)
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to marshal run %d: %v", report.ID, err)
		}
		key := fmt.Sprintf("%s%d", runPrefix, report.ID)
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return struct{}{}, fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		return struct{}{}, nil
	})
	return err
}

// GetRun retrieves a run report from Redis.
func (s *RedisStore) GetRun(ctx context.Context, id uint64) (types.RunReport, error) {
	return withContext(ctx, func() (types.RunReport, error) {
		key := fmt.Sprintf("%s%d", runPrefix, id)
		data, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return types.RunReport{}, fmt.Errorf("%w: id=%d", ErrRunNotFound, id)
		}
		if err != nil {
			return types.RunReport{}, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}
		var report types.RunReport
		if err := json.Unmarshal(data, &report); err != nil {
			return types.RunReport{}, fmt.Errorf("failed to unmarshal run %d: %v", id, err)
		}
		return report, nil
	})
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
