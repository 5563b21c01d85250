package consumer

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/vectorstore/internal/action"
	"github.com/Zereker/vectorstore/pkg/log"
	"github.com/Zereker/vectorstore/pkg/mq"
)

// DefaultGroup is the consumer group used when kafka is enabled without explicit consumers.
const DefaultGroup = "vectorstore"

// runner is one running subscription, a kafka consumer group member in production.
type runner interface {
	Start(ctx context.Context) error
	Stop() error
}

// Consumer applies vector mutations consumed from the message queue.
type Consumer struct {
	logger  *slog.Logger
	vectors *action.Vectors
	runners []runner
}

// Config is the consumer configuration.
type Config struct {
	Kafka mq.KafkaConfig
}

// NewConsumer creates one kafka consumer per configured group. Without explicit consumers a
// single group reads the mutation topic.
func NewConsumer(vectors *action.Vectors, cfg Config) (*Consumer, error) {
	c := &Consumer{
		logger:  log.Logger("consumer"),
		vectors: vectors,
	}

	if !cfg.Kafka.Enabled {
		c.logger.Info("kafka disabled, consumer not started")
		return c, nil
	}

	consumers := cfg.Kafka.Consumers
	if len(consumers) == 0 {
		consumers = []mq.ConsumerConfig{{
			Name:   "mutations",
			Group:  DefaultGroup,
			Topics: []string{cfg.Kafka.MutationTopic},
		}}
	}

	for _, cc := range consumers {
		kc, err := mq.NewKafkaConsumer(cfg.Kafka.Brokers, cc, c.Handle)
		if err != nil {
			c.stopAll()
			return nil, errors.WithMessagef(err, "create consumer %s", cc.Group)
		}
		c.runners = append(c.runners, kc)
	}

	return c, nil
}

// NewQueueConsumer applies mutations published to topic on an in-process queue.
func NewQueueConsumer(vectors *action.Vectors, queue mq.MessageQueue, topic string) (*Consumer, error) {
	c := &Consumer{
		logger:  log.Logger("consumer"),
		vectors: vectors,
	}
	if err := queue.Subscribe(topic, c.Handle); err != nil {
		return nil, errors.WithMessagef(err, "subscribe %s", topic)
	}
	return c, nil
}

// Handle decodes and applies one mutation message.
func (c *Consumer) Handle(ctx context.Context, topic string, message []byte) error {
	if err := c.vectors.HandleMessage(ctx, topic, message); err != nil {
		c.logger.Warn("mutation not applied", "topic", topic, "error", err)
		return err
	}
	return nil
}

// Start runs every consumer until ctx is cancelled or one fails.
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.runners) == 0 {
		c.logger.Info("no consumers configured, skipping start")
		return nil
	}

	c.logger.Info("starting consumers", "count", len(c.runners))

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range c.runners {
		g.Go(func() error {
			return r.Start(ctx)
		})
	}

	return g.Wait()
}

// Stop stops every consumer.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumers")
	c.stopAll()
	return nil
}

func (c *Consumer) stopAll() {
	for _, r := range c.runners {
		if err := r.Stop(); err != nil {
			c.logger.Error("failed to stop consumer", "error", err)
		}
	}
}
