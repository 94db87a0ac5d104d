package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"transmute/internal/models"
)

// RedisSink publishes every update on "<prefix><job id>" and keeps the
// latest one under "<prefix>snapshot:<job id>" for ttl.
type RedisSink struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSink(client *redis.Client, prefix string, ttl time.Duration) *RedisSink {
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

// Channel returns the pub/sub channel carrying updates for jobID.
func (s *RedisSink) Channel(jobID string) string { return s.prefix + jobID }

func (s *RedisSink) snapshotKey(jobID string) string {
	return s.prefix + "snapshot:" + jobID
}

func (s *RedisSink) Publish(ctx context.Context, u models.ProgressUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal progress update: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Publish(ctx, s.Channel(u.JobID), data)
	pipe.Set(ctx, s.snapshotKey(u.JobID), data, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish progress for %s: %w", u.JobID, err)
	}
	return nil
}

func (s *RedisSink) Snapshot(ctx context.Context, jobID string) (models.ProgressUpdate, error) {
	val, err := s.client.Get(ctx, s.snapshotKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ProgressUpdate{}, ErrNoSnapshot
	}
	if err != nil {
		return models.ProgressUpdate{}, fmt.Errorf("read progress snapshot: %w", err)
	}
	var u models.ProgressUpdate
	if err := json.Unmarshal(val, &u); err != nil {
		return models.ProgressUpdate{}, fmt.Errorf("decode progress snapshot: %w", err)
	}
	return u, nil
}

// Subscribe opens a pub/sub subscription for jobID's updates.
func (s *RedisSink) Subscribe(ctx context.Context, jobID string) *redis.PubSub {
	return s.client.Subscribe(ctx, s.Channel(jobID))
}
