package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesTransientFailures(t *testing.T) {
	var calls int32
	done := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("db unavailable")
		}
		close(done)
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: 10 * time.Millisecond})

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "1", Type: "scan"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueueDropsPermanentFailuresWithoutRetry(t *testing.T) {
	var calls int32
	dropped := make(chan Job, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		return fmt.Errorf("bad payload: %w", ErrPermanent)
	}, QueueConfig{Workers: 1, RetryDelay: 10 * time.Millisecond, OnDrop: func(job Job, err error) {
		dropped <- job
	}})

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "bad"}))

	select {
	case job := <-dropped:
		assert.Equal(t, "bad", job.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not dropped")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(context.Background(), Job{}))
}

func TestPumpDeliversFromMemorySource(t *testing.T) {
	var mu sync.Mutex
	var got []string
	received := make(chan struct{}, 2)
	q := NewQueue("scans", func(ctx context.Context, job Job) error {
		mu.Lock()
		got = append(got, string(job.Payload))
		mu.Unlock()
		received <- struct{}{}
		return nil
	}, QueueConfig{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	src := NewMemorySource(4, 20*time.Millisecond)
	require.NoError(t, src.Publish(ctx, []byte("a")))
	require.NoError(t, src.Publish(ctx, []byte("b")))

	go Pump(ctx, src, q, "scan", nil)

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("message not delivered")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestRedisSourceFIFO(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	src := NewRedisSource(client, "attendance:scans", 50*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, src.Publish(ctx, []byte("first")))
	require.NoError(t, src.Publish(ctx, []byte("second")))

	body, err := src.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", string(body))

	body, err = src.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", string(body))
}

func TestMemorySourceEmpty(t *testing.T) {
	src := NewMemorySource(1, 10*time.Millisecond)
	_, err := src.Pop(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
}
