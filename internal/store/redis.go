package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix  = "saralmitti:job:"
	jobIndexKey   = "saralmitti:jobs"
	updateChannel = "saralmitti:updates"
)

// JobKey returns the Redis key holding the JSON-encoded job with the given id.
func JobKey(id string) string {
	return jobKeyPrefix + id
}

// RedisStore implements [Store] on top of Redis.
//
// Each job is stored as JSON under its own key and indexed in a sorted set
// scored by creation time. Updates are published on a Redis channel, so
// several backend replicas sharing one Redis see each other's jobs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	subs map[<-chan Job]*redis.PubSub
}

// NewRedisStore creates a RedisStore from a Redis URL such as
// "redis://localhost:6379/0".
//
// Jobs expire after ttl; zero keeps them forever.
func NewRedisStore(redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: redis.NewClient(opts),
		ttl:    ttl,
		logger: logger,
		subs:   make(map[<-chan Job]*redis.PubSub),
	}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Put writes the job, updates the index and publishes the update in one
// transaction.
func (s *RedisStore) Put(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, JobKey(job.ID), data, s.ttl)
	pipe.ZAdd(ctx, jobIndexKey, redis.Z{
		Score:  float64(job.CreatedAt.UnixMilli()),
		Member: job.ID,
	})
	if s.ttl > 0 {
		cutoff := time.Now().Add(-s.ttl).UnixMilli()
		pipe.ZRemRangeByScore(ctx, jobIndexKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
	}
	pipe.Publish(ctx, updateChannel, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Job, error) {
	data, err := s.client.Get(ctx, JobKey(id)).Bytes()
	if err == redis.Nil {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return job, nil
}

// List returns up to limit jobs, newest first. Index entries whose key has
// expired are skipped.
func (s *RedisStore) List(ctx context.Context, limit int) ([]Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := s.client.ZRevRange(ctx, jobIndexKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = JobKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			s.logger.Warn("skipping undecodable job", "job_id", ids[i], "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Subscribe listens on the update channel. The subscription is confirmed
// before Subscribe returns, so no update published afterwards is missed.
func (s *RedisStore) Subscribe(ctx context.Context) (<-chan Job, error) {
	ps := s.client.Subscribe(ctx, updateChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Job, subscriberBuffer)
	s.mu.Lock()
	s.subs[out] = ps
	s.mu.Unlock()

	go s.forward(ps, out)
	return out, nil
}

// forward decodes published jobs onto out until the subscription is closed.
func (s *RedisStore) forward(ps *redis.PubSub, out chan<- Job) {
	defer close(out)

	for msg := range ps.Channel() {
		var job Job
		if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
			s.logger.Warn("dropping undecodable update", "error", err)
			continue
		}
		select {
		case out <- job:
		default:
			// subscriber is slow, drop the message
		}
	}
}

// Unsubscribe closes the Redis subscription behind ch. The channel is closed
// once its forwarding goroutine exits.
func (s *RedisStore) Unsubscribe(ch <-chan Job) {
	s.mu.Lock()
	ps, ok := s.subs[ch]
	delete(s.subs, ch)
	s.mu.Unlock()

	if ok {
		if err := ps.Close(); err != nil {
			s.logger.Warn("failed to close subscription", "error", err)
		}
	}
}

// Close closes all subscriptions and the Redis client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	for ch, ps := range s.subs {
		_ = ps.Close()
		delete(s.subs, ch)
	}
	s.mu.Unlock()

	return s.client.Close()
}
