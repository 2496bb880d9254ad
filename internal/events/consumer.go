package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/emf-platform/gateway/internal/config"
	"github.com/emf-platform/gateway/internal/logging"
	"github.com/emf-platform/gateway/internal/metrics"
	"go.uber.org/zap"
)

const readTimeout = time.Second

// Consumer reads configuration events from Kafka and dispatches them to the
// handler by topic. Processing failures are counted and logged; the consumer
// never stops on a bad message.
type Consumer struct {
	consumer *kafka.Consumer
	handler  *Handler
	metrics  *metrics.Metrics
	dispatch map[string]func([]byte) error

	// mu guards admin operations (Assignment, GetMetadata, Close).
	// ReadMessage itself is safe without it.
	mu     sync.Mutex
	closed bool
}

// NewConsumer creates and subscribes a Kafka consumer for the configuration
// topics. m may be nil.
func NewConsumer(cfg config.KafkaConfig, handler *Handler, m *metrics.Metrics) (*Consumer, error) {
	kc, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	c := &Consumer{
		consumer: kc,
		handler:  handler,
		metrics:  m,
		dispatch: map[string]func([]byte) error{
			cfg.Topics.CollectionChanged:       handler.HandleCollectionChanged,
			cfg.Topics.ServiceChanged:          handler.HandleServiceChanged,
			cfg.Topics.AuthzChanged:            handler.HandleAuthzChanged,
			cfg.Topics.WorkerAssignmentChanged: handler.HandleWorkerAssignment,
			cfg.Topics.RecordChanged:           handler.HandleRecordChanged,
		},
	}

	topics := make([]string, 0, len(c.dispatch))
	for topic := range c.dispatch {
		topics = append(topics, topic)
	}
	if err := kc.SubscribeTopics(topics, nil); err != nil {
		kc.Close()
		return nil, fmt.Errorf("subscribe to config topics: %w", err)
	}

	logging.Info("kafka consumer subscribed",
		zap.Strings("topics", topics),
		zap.String("group_id", cfg.GroupID))
	return c, nil
}

// Run consumes until the context is cancelled. Read errors back off
// exponentially so a broker outage does not spin the loop.
func (c *Consumer) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := c.consumer.ReadMessage(readTimeout)
		if err != nil {
			if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrTimedOut {
				bo.Reset()
				continue
			}
			wait := bo.NextBackOff()
			logging.Warn("kafka read failed, backing off",
				zap.Error(err), zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		c.process(msg)
	}
}

func (c *Consumer) process(msg *kafka.Message) {
	topic := ""
	if msg.TopicPartition.Topic != nil {
		topic = *msg.TopicPartition.Topic
	}

	handle, ok := c.dispatch[topic]
	if !ok {
		logging.Warn("message on unexpected topic", zap.String("topic", topic))
		return
	}

	if err := handle(msg.Value); err != nil {
		logging.Error("failed to process config event",
			zap.String("topic", topic), zap.Error(err))
		c.record(topic, "error")
		return
	}
	c.record(topic, "ok")
}

func (c *Consumer) record(topic, result string) {
	if c.metrics != nil {
		c.metrics.RecordConfigEvent(topic, result)
	}
}

// Health reports whether the consumer can reach the cluster.
func (c *Consumer) Health(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			done <- fmt.Errorf("kafka consumer is closed")
			return
		}
		assignment, err := c.consumer.Assignment()
		if err != nil {
			done <- fmt.Errorf("kafka consumer health: %w", err)
			return
		}
		if len(assignment) == 0 {
			if _, err := c.consumer.GetMetadata(nil, true, 1000); err != nil {
				done <- fmt.Errorf("kafka consumer health: %w", err)
				return
			}
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Close shuts the consumer down.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.consumer.Close()
}
