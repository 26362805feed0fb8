package hub

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/community-chat/pkg/model"
)

// envelope is what travels over the bridge topic: the event plus the
// recipient exclusion that typing fanout needs.
type envelope struct {
	Event         model.Event `json:"event"`
	ExcludeUserID string      `json:"exclude_user_id,omitempty"`
}

// Bridge replicates published events across nodes through a Kafka
// topic. Messages are keyed by room id so per-room order survives the
// partitioned topic; each node consumes with a unique group id, which
// turns the topic into a broadcast.
type Bridge struct {
	logger   *zap.SugaredLogger
	producer *kafka.Writer
	reader   *kafka.Reader
}

func NewBridge(logger *zap.SugaredLogger, brokers []string, topic string) *Bridge {
	producer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "fanout-node-" + strconv.FormatInt(time.Now().UnixNano(), 10),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	return &Bridge{logger: logger, producer: producer, reader: reader}
}

func (b *Bridge) Publish(ctx context.Context, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	return b.producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.Event.RoomID),
		Value: data,
		Time:  time.Now(),
	})
}

// Consume reads envelopes until ctx is cancelled and hands each one to
// deliver. Malformed payloads are logged and skipped.
func (b *Bridge) Consume(ctx context.Context, deliver func(envelope)) error {
	defer b.reader.Close()

	for {
		m, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var env envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			b.logger.Errorf("unmarshal bridge envelope: %v", err)
			continue
		}

		deliver(env)
	}
}

func (b *Bridge) Close() error {
	return b.producer.Close()
}
