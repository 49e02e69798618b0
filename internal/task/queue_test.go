package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

func collect(t *testing.T, q Queue, want int, fail map[string]int) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, 2, func(_ context.Context, id string) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, id)
			if fail[id] > 0 {
				fail[id]--
				return errors.New("transient")
			}
			if len(seen) == want {
				cancel()
			}
			return nil
		})
		close(done)
	}()
	<-done
	mu.Lock()
	defer mu.Unlock()
	return append([]string(nil), seen...)
}

func TestRedisQueueRedeliversFailedJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueueWithClient(client, "test", 50*time.Millisecond)
	t.Cleanup(func() { _ = q.Close() })

	for _, id := range []string{"a", "b"} {
		if err := q.Publish(context.Background(), id); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	seen := collect(t, q, 3, map[string]int{"a": 1})
	if len(seen) != 3 {
		t.Fatalf("seen = %v", seen)
	}
	count := map[string]int{}
	for _, id := range seen {
		count[id]++
	}
	if count["a"] != 2 || count["b"] != 1 {
		t.Fatalf("deliveries = %v", count)
	}
	deadline := time.Now().Add(time.Second)
	for {
		n, _ := client.LLen(context.Background(), "test:jobs:processing").Result()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("processing list holds %d entries", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMemoryQueueRejectsAfterClose(t *testing.T) {
	q := NewMemoryQueue(1)
	_ = q.Close()
	if err := q.Publish(context.Background(), "x"); err == nil {
		t.Fatal("expected error after close")
	}
}

type fakeKafka struct {
	mu        sync.Mutex
	messages  chan kafka.Message
	committed []string
	written   []string
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.written = append(f.written, string(m.Value))
		f.messages <- m
	}
	return nil
}

func (f *fakeKafka) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-f.messages:
		return m, nil
	}
}

func (f *fakeKafka) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, string(m.Value))
	}
	return nil
}

func (f *fakeKafka) Close() error { return nil }

func TestKafkaQueueCommitsAndRepublishes(t *testing.T) {
	fk := &fakeKafka{messages: make(chan kafka.Message, 16)}
	q := newKafkaQueue(fk, fk)

	for _, id := range []string{"a", "b"} {
		if err := q.Publish(context.Background(), id); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	seen := collect(t, q, 3, map[string]int{"b": 1})
	if len(seen) != 3 {
		t.Fatalf("seen = %v", seen)
	}
	fk.mu.Lock()
	defer fk.mu.Unlock()
	if len(fk.written) != 3 {
		t.Fatalf("written = %v", fk.written)
	}
	if len(fk.committed) < 2 {
		t.Fatalf("committed = %v", fk.committed)
	}
}
