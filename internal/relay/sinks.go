package relay

import (
	"context"
	"encoding/json"
	"time"

	"clinicqueue/internal/hub"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const RedisChannel = "clinicqueue:events"

type HubSink struct {
	hub *hub.Hub
}

func NewHubSink(h *hub.Hub) *HubSink {
	return &HubSink{hub: h}
}

func (s *HubSink) Name() string { return "hub" }

func (s *HubSink) Publish(ctx context.Context, events []hub.Event) error {
	for _, event := range events {
		if err := s.hub.Publish(event); err != nil {
			return err
		}
	}
	return nil
}

// RedisSink publishes every event on a channel all instances subscribe to.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = RedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, events []hub.Event) error {
	pipe := s.client.Pipeline()
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, s.channel, payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    1024,
	}
}

func NewKafkaSink(writer *kafka.Writer) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Publish keys messages by service so one service's events stay ordered
// within a partition.
func (s *KafkaSink) Publish(ctx context.Context, events []hub.Event) error {
	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(event.ServiceID),
			Value: payload,
			Time:  event.CreatedAt,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(event.Type)},
			},
		})
	}
	return s.writer.WriteMessages(ctx, messages...)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// Subscribe forwards events from the Redis channel to the local hub until ctx
// is done.
func Subscribe(ctx context.Context, client *redis.Client, channel string, h *hub.Hub, logger zerolog.Logger) error {
	if channel == "" {
		channel = RedisChannel
	}
	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	logger.Info().Str("channel", channel).Msg("redis subscriber started")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event hub.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warn().Err(err).Msg("decode redis event")
				continue
			}
			if err := h.Publish(event); err != nil {
				logger.Warn().Err(err).Msg("publish redis event")
			}
		}
	}
}
