package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/concretepros/directory-api/internal/model"
)

var (
	ErrNotFound = errors.New("job not found")
	// ErrConflict is returned when an optimistic update kept losing races
	ErrConflict = errors.New("job was modified concurrently")
)

// JobStore persists job records
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	// List returns every job, newest first
	List(ctx context.Context) ([]*model.Job, error)
	// Update applies fn to the stored job atomically and persists the result.
	// If fn returns an error nothing is written and the error is returned as is.
	Update(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error)
}

const (
	jobKeyPrefix   = "job:"
	jobIndexKey    = "jobs:index"
	maxTxnAttempts = 5
)

func jobKey(id string) string {
	return jobKeyPrefix + id
}

// RedisJobStore keeps each job as a JSON string under job:<id> with a
// sorted-set index ordered by creation time.
type RedisJobStore struct {
	redis     *redis.Client
	retention time.Duration
}

// NewRedisJobStore creates a store. Terminal jobs expire after retention; zero keeps them forever.
func NewRedisJobStore(redisClient *redis.Client, retention time.Duration) *RedisJobStore {
	return &RedisJobStore{
		redis:     redisClient,
		retention: retention,
	}
}

func (s *RedisJobStore) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), data, 0)
		pipe.ZAdd(ctx, jobIndexKey, redis.Z{
			Score:  float64(job.CreatedAt.UnixMilli()),
			Member: job.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeJob(data)
}

func (s *RedisJobStore) List(ctx context.Context) ([]*model.Job, error) {
	ids, err := s.redis.ZRevRange(ctx, jobIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job index: %w", err)
	}
	if len(ids) == 0 {
		return []*model.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}

	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make([]*model.Job, 0, len(values))
	var expired []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// record expired; drop it from the index
			expired = append(expired, ids[i])
			continue
		}
		job, err := decodeJob([]byte(raw))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if len(expired) > 0 {
		s.redis.ZRem(ctx, jobIndexKey, expired...)
	}
	return jobs, nil
}

func (s *RedisJobStore) Update(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	key := jobKey(id)
	var updated *model.Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		job, err := decodeJob(data)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}

		out, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		ttl := time.Duration(0)
		if job.Status.IsTerminal() {
			ttl = s.retention
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated = job
		return nil
	}

	for i := 0; i < maxTxnAttempts; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrConflict
}

func decodeJob(data []byte) (*model.Job, error) {
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
