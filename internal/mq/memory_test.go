package mq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func consumeAsync(t *testing.T, q *MemoryQueue, handler Handler) (cancel func()) {
	t.Helper()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, 2, handler)
	}()
	return func() {
		stop()
		<-done
	}
}

func TestMemoryQueue_DeliversInstanceWork(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{})

	var mu sync.Mutex
	var got []InstanceWorkPayload
	stop := consumeAsync(t, q, func(ctx context.Context, d *Delivery) error {
		payload, err := ParsePayload[InstanceWorkPayload](&d.Message)
		if err != nil {
			return err
		}
		mu.Lock()
		got = append(got, payload)
		mu.Unlock()
		return nil
	})
	defer stop()

	require.NoError(t, q.NotifyInstance(context.Background(), "abc", ReasonStarted))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "abc", got[0].InstanceID)
	assert.Equal(t, ReasonStarted, got[0].Reason)
}

func TestMemoryQueue_RequeuesOnError(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{Backoff: time.Millisecond})

	var calls atomic.Int32
	stop := consumeAsync(t, q, func(ctx context.Context, d *Delivery) error {
		if calls.Add(1) < 3 {
			return errors.New("try again")
		}
		return nil
	})
	defer stop()

	require.NoError(t, q.NotifyInstance(context.Background(), "abc", ""))

	assert.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMemoryQueue_PermanentErrorDrops(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{Backoff: time.Millisecond})

	var calls atomic.Int32
	stop := consumeAsync(t, q, func(ctx context.Context, d *Delivery) error {
		calls.Add(1)
		return ErrPermanent
	})
	defer stop()

	require.NoError(t, q.NotifyInstance(context.Background(), "abc", ""))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMemoryQueue_FullBufferDoesNotBlock(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{Size: 1})

	require.NoError(t, q.NotifyInstance(context.Background(), "a", ReasonStarted))

	done := make(chan error, 1)
	go func() {
		done <- q.NotifyInstance(context.Background(), "b", ReasonStarted)
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
	assert.Equal(t, 1, q.Len())

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a full buffer")
	}
}

func TestMemoryQueue_PublishCanceledContext(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, q.NotifyInstance(ctx, "a", ""), context.Canceled)
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{})
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.NotifyInstance(context.Background(), "abc", ""), ErrQueueClosed)
	assert.ErrorIs(t, q.Consume(context.Background(), 1, nil), ErrQueueClosed)
}

func TestParsePayload(t *testing.T) {
	msg := NewInstanceWorkMessage("abc", ReasonChildDone)
	assert.Equal(t, MessageTypeInstanceWork, msg.Type)
	assert.NotEmpty(t, msg.ID)

	payload, err := ParsePayload[InstanceWorkPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, "abc", payload.InstanceID)
	assert.Equal(t, ReasonChildDone, payload.Reason)
}
