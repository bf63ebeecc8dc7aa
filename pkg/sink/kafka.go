package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/IMBotPlatform/wcfbridge/pkg/botcore"
)

// KafkaOptions 配置事件写入的 Kafka topic。
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration // 默认 10s
	RequireAll   bool          // 为 true 时等待全部副本确认，否则只等待 leader
}

// messageWriter 是 *kafka.Writer 中用到的部分，便于测试替换。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter 将事件信封写入 Kafka。
// 消息键取 botcore.EventKey，同一群或同一联系人的事件落在同一分区，保持相对顺序。
type KafkaEmitter struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaEmitter 创建 KafkaEmitter。
func NewKafkaEmitter(opts KafkaOptions, logger *zap.Logger) (*KafkaEmitter, error) {
	if len(opts.Brokers) == 0 || opts.Topic == "" {
		return nil, fmt.Errorf("kafka sink requires brokers and topic")
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	acks := kafka.RequireOne
	if opts.RequireAll {
		acks = kafka.RequireAll
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Topic:                  opts.Topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           opts.WriteTimeout,
		RequiredAcks:           acks,
		AllowAutoTopicCreation: false,
	}
	return newKafkaEmitter(w, opts.Topic, logger), nil
}

func newKafkaEmitter(w messageWriter, topic string, logger *zap.Logger) *KafkaEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaEmitter{writer: w, topic: topic, logger: logger}
}

// Emit 实现 botcore.Emitter。
func (k *KafkaEmitter) Emit(ctx context.Context, event botcore.Event) error {
	value, err := botcore.MarshalEvent(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(botcore.EventKey(event)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type().String())},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.logger.Error("写入 Kafka 失败",
			zap.String("topic", k.topic),
			zap.Stringer("event", event.Type()),
			zap.Error(err))
		return fmt.Errorf("write to kafka topic %s: %w", k.topic, err)
	}
	return nil
}

// Close 关闭底层 Writer，等待缓冲中的消息写出。
func (k *KafkaEmitter) Close() error {
	return k.writer.Close()
}
