package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pluree/api/internal/model"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already completed")
)

// JobStore persists job records and the per-key active run lock.
type JobStore interface {
	Save(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, jobID string) (*model.Job, error)

	// AcquireActive takes the active-run lock for key on behalf of jobID.
	// When the lock is held it returns the holder's job ID and false.
	AcquireActive(ctx context.Context, key, jobID string, ttl time.Duration) (string, bool, error)
	// ReleaseActive drops the lock only if jobID still holds it.
	ReleaseActive(ctx context.Context, key, jobID string) error
}

const jobTTL = 24 * time.Hour

// compare-and-delete so a stale worker cannot drop a newer run's lock
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisJobStore implements JobStore on Redis
type RedisJobStore struct {
	redis *redis.Client
}

func NewRedisJobStore(redisClient *redis.Client) *RedisJobStore {
	return &RedisJobStore{redis: redisClient}
}

func (s *RedisJobStore) Save(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func (s *RedisJobStore) AcquireActive(ctx context.Context, key, jobID string, ttl time.Duration) (string, bool, error) {
	ok, err := s.redis.SetNX(ctx, activeKey(key), jobID, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if ok {
		return jobID, true, nil
	}

	holder, err := s.redis.Get(ctx, activeKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// released between SETNX and GET
		return s.AcquireActive(ctx, key, jobID, ttl)
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read run lock: %w", err)
	}
	return holder, false, nil
}

func (s *RedisJobStore) ReleaseActive(ctx context.Context, key, jobID string) error {
	return releaseScript.Run(ctx, s.redis, []string{activeKey(key)}, jobID).Err()
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func activeKey(key string) string {
	return fmt.Sprintf("training:active:%s", key)
}
