package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
)

const (
	redisKeyPrefix = "dipeo:execution:"
	redisIndexKey  = "dipeo:executions:by_started_at"
)

// RedisRepository persists execution records as JSON values with a sorted-set
// index over started_at for listing.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository wraps an existing client.
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) key(id ids.ExecutionID) string {
	return redisKeyPrefix + string(id)
}

func (r *RedisRepository) Create(ctx context.Context, s *execution.State) error {
	return r.Save(ctx, s)
}

func (r *RedisRepository) Get(ctx context.Context, id ids.ExecutionID) (*execution.State, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: redis get %s: %w", id, err)
	}
	var s execution.State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisRepository) List(ctx context.Context, filter execution.Filter) ([]*execution.State, error) {
	// Newest first from the index; filter and paginate in-process.
	idsByTime, err := r.client.ZRevRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("state: redis index scan: %w", err)
	}

	var out []*execution.State
	for _, raw := range idsByTime {
		s, err := r.Get(ctx, ids.ExecutionID(raw))
		if err != nil {
			continue // index may lag deletions
		}
		if matches(s, filter) {
			out = append(out, s)
		}
	}
	return paginate(out, filter), nil
}

func (r *RedisRepository) Save(ctx context.Context, s *execution.State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", s.ID, err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.key(s.ID), data, 0)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{
		Score:  float64(s.StartedAt.UnixNano()),
		Member: string(s.ID),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("state: redis save %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, id ids.ExecutionID) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.key(id))
	pipe.ZRem(ctx, redisIndexKey, string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("state: redis delete %s: %w", id, err)
	}
	return nil
}

func (r *RedisRepository) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	all, err := r.List(ctx, execution.Filter{})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, s := range all {
		if s.Status.Terminal() && s.EndedAt != nil && s.EndedAt.Before(cutoff) {
			if err := r.Delete(ctx, s.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
