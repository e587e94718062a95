package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "aidash:training:job:"
	runningKey = "aidash:training:running"
)

// RedisStore keeps each job as a JSON string with a TTL and tracks unfinished
// jobs in a set.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	if client == nil {
		panic("jobs: redis client is required")
	}
	return &RedisStore{client: client}
}

func (r *RedisStore) Create(ctx context.Context, job *Job, ttl time.Duration) error {
	data, err := json.Marshal(stored(job))
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyPrefix+job.ID, data, ttl)
		pipe.SAdd(ctx, runningKey, job.ID)
		return nil
	})
	return err
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	data, err := r.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return decode(data)
}

// Update runs fn inside WATCH/MULTI so concurrent advances never lose a step.
func (r *RedisStore) Update(ctx context.Context, id string, ttl time.Duration, fn func(*Job) error) (*Job, error) {
	key := keyPrefix + id
	var out *Job
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		job, err := decode(data)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		next, err := json.Marshal(stored(job))
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			if job.Done() {
				pipe.SRem(ctx, runningKey, id)
			}
			return nil
		})
		out = job
		return err
	}

	for range 3 {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, ErrJobConflict
}

// Running returns unfinished job ids and prunes ids whose key expired.
func (r *RedisStore) Running(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, runningKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list running: %w", err)
	}
	live := ids[:0]
	for _, id := range ids {
		n, err := r.client.Exists(ctx, keyPrefix+id).Result()
		if err != nil {
			return nil, fmt.Errorf("check job: %w", err)
		}
		if n == 0 {
			r.client.SRem(ctx, runningKey, id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

// storedJob keeps the owner, which Job hides from JSON responses.
type storedJob struct {
	Job
	Owner string `json:"user_id"`
}

func stored(j *Job) storedJob { return storedJob{Job: *j, Owner: j.UserID} }

func decode(data []byte) (*Job, error) {
	var s storedJob
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	s.Job.UserID = s.Owner
	return &s.Job, nil
}
