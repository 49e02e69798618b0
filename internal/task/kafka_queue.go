package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig 描述 Kafka 队列。
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// kafkaWriter 是 kafka.Writer 中被使用的子集。
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaReader 是 kafka.Reader 中被使用的子集。
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue 以 Kafka 主题承载任务 ID，任务 ID 同时作为分区键。
// 消费组内的偏移量在处理完成后提交。
type KafkaQueue struct {
	writer kafkaWriter
	reader kafkaReader
	mu     sync.Mutex
}

// NewKafkaQueue 创建 Kafka 队列实例。
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("Kafka brokers 不能为空")
	}
	if cfg.Topic == "" {
		return nil, errors.New("Kafka topic 不能为空")
	}
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "swapbotd"
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	return newKafkaQueue(writer, reader), nil
}

func newKafkaQueue(writer kafkaWriter, reader kafkaReader) *KafkaQueue {
	return &KafkaQueue{writer: writer, reader: reader}
}

// Publish 将任务写入主题。
func (q *KafkaQueue) Publish(ctx context.Context, jobID string) error {
	if q == nil || q.writer == nil {
		return errors.New("Kafka 队列未初始化")
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{Key: []byte(jobID), Value: []byte(jobID)}); err != nil {
		return fmt.Errorf("Kafka 发布任务失败: %w", err)
	}
	return nil
}

// Consume 由单个拉取协程读取消息并分发给工作协程，处理结束后提交偏移量。
// 处理失败的任务重新写入主题。
func (q *KafkaQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.reader == nil {
		return errors.New("Kafka 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs := make(chan kafka.Message)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgs {
				if err := handler(ctx, string(msg.Value)); err != nil {
					_ = q.Publish(ctx, string(msg.Value))
				}
				q.mu.Lock()
				_ = q.reader.CommitMessages(ctx, msg)
				q.mu.Unlock()
			}
		}()
	}

	var fetchErr error
	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				fetchErr = fmt.Errorf("Kafka 取任务失败: %w", err)
			}
			break
		}
		select {
		case msgs <- msg:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(msgs)
	wg.Wait()
	if fetchErr != nil {
		return fetchErr
	}
	return ctx.Err()
}

// Close 关闭读写端。
func (q *KafkaQueue) Close() error {
	if q == nil {
		return nil
	}
	var errs []error
	if q.writer != nil {
		errs = append(errs, q.writer.Close())
	}
	if q.reader != nil {
		errs = append(errs, q.reader.Close())
	}
	return errors.Join(errs...)
}
