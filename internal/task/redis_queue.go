package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现任务队列。处理中的任务 ID 暂存于
// processing 列表，处理失败时放回队列尾部。
type RedisQueue struct {
	client     *redis.Client
	queue      string
	processing string
	wait       time.Duration
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisQueueWithClient(client, cfg.KeyPrefix, cfg.BlockWait), nil
}

// NewRedisQueueWithClient 复用已有的 Redis 客户端。
func NewRedisQueueWithClient(client *redis.Client, prefix string, wait time.Duration) *RedisQueue {
	if prefix == "" {
		prefix = "swapbot"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{
		client:     client,
		queue:      prefix + ":jobs",
		processing: prefix + ":jobs:processing",
		wait:       wait,
	}
}

// Publish 将任务投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.queue, jobID).Err(); err != nil {
		return fmt.Errorf("Redis 发布任务失败: %w", err)
	}
	return nil
}

// Consume 通过 BLMOVE 从 Redis 获取任务。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				if ctx.Err() != nil {
					errCh <- ctx.Err()
					return
				}
				jobID, err := q.client.BLMove(ctx, q.queue, q.processing, "RIGHT", "LEFT", q.wait).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- fmt.Errorf("Redis 取任务失败: %w", err)
					return
				}
				// 取消信号不应打断出队确认。
				ackCtx := context.WithoutCancel(ctx)
				if handlerErr := handler(ctx, jobID); handlerErr != nil {
					_ = q.client.RPush(ackCtx, q.queue, jobID).Err()
				}
				_ = q.client.LRem(ackCtx, q.processing, 1, jobID).Err()
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
