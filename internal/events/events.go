// Package events publishes domain events (alerts, cycle summaries,
// executions, model transitions) to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
)

const (
	TopicAlerts           = "safety_alerts"
	TopicCycles           = "cycles"
	TopicExecutions       = "executions"
	TopicModelTransitions = "model_transitions"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, key string, value any) error
	Close() error
}

// Nop drops everything. Used when Kafka is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }
func (Nop) Close() error                                        { return nil }

type KafkaPublisher struct {
	writer *kafka.Writer
	prefix string
	logger *zap.Logger
}

// New returns a Nop publisher when Kafka is disabled or has no brokers.
func New(cfg config.KafkaConfig, logger *zap.Logger) Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return Nop{}
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			Compression:            kafka.Gzip,
			MaxAttempts:            3,
			WriteTimeout:           timeout,
			BatchTimeout:           time.Second,
			AllowAutoTopicCreation: true,
		},
		prefix: strings.TrimSpace(cfg.TopicPrefix),
		logger: logger,
	}
}

func (p *KafkaPublisher) Topic(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "." + name
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key string, value any) error {
	if p == nil || p.writer == nil {
		return nil
	}
	var v []byte
	switch val := value.(type) {
	case []byte:
		v = val
	case string:
		v = []byte(val)
	default:
		var err error
		v, err = json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
	}
	msg := kafka.Message{
		Topic: p.Topic(topic),
		Key:   []byte(key),
		Value: v,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// PublishBestEffort logs and swallows publish errors.
func PublishBestEffort(ctx context.Context, p Publisher, logger *zap.Logger, topic, key string, value any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, topic, key, value); err != nil && logger != nil {
		logger.Warn("event publish failed", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
	}
}
