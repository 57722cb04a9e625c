package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrEmpty is returned by Pop when no message arrived before the poll timeout.
var ErrEmpty = errors.New("source empty")

// Source is an inbound message channel feeding a Queue.
type Source interface {
	Publish(ctx context.Context, body []byte) error
	Pop(ctx context.Context) ([]byte, error)
}

// RedisSource is a Redis list consumed with LPUSH/BRPOP.
type RedisSource struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisSource builds a list-backed source. Pop blocks at most timeout.
func NewRedisSource(client *redis.Client, key string, timeout time.Duration) *RedisSource {
	if key == "" {
		key = "attendance:scans"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisSource{client: client, key: key, timeout: timeout}
}

// Publish appends a message to the list.
func (s *RedisSource) Publish(ctx context.Context, body []byte) error {
	if err := s.client.LPush(ctx, s.key, body).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", s.key, err)
	}
	return nil
}

// Pop removes the oldest message.
func (s *RedisSource) Pop(ctx context.Context) ([]byte, error) {
	res, err := s.client.BRPop(ctx, s.timeout, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("brpop %s: %w", s.key, err)
	}
	if len(res) != 2 {
		return nil, ErrEmpty
	}
	return []byte(res[1]), nil
}

// MemorySource is a bounded channel for development and tests.
type MemorySource struct {
	ch      chan []byte
	timeout time.Duration
}

// NewMemorySource creates an in-memory source.
func NewMemorySource(size int, timeout time.Duration) *MemorySource {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MemorySource{ch: make(chan []byte, size), timeout: timeout}
}

// Publish enqueues a message.
func (s *MemorySource) Publish(ctx context.Context, body []byte) error {
	select {
	case s.ch <- body:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop waits for the next message.
func (s *MemorySource) Pop(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case body := <-s.ch:
		return body, nil
	case <-timer.C:
		return nil, ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pump moves messages from src into q until ctx is cancelled.
func Pump(ctx context.Context, src Source, q *Queue, jobType string, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		if ctx.Err() != nil {
			return
		}
		body, err := src.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn("source pop failed", zap.String("type", jobType), zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		job := Job{ID: uuid.NewString(), Type: jobType, Payload: body}
		if err := q.Enqueue(ctx, job); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("enqueue failed", zap.String("type", jobType), zap.Error(err))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
