package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/Zereker/vectorstore/pkg/log"
)

// Package-level singleton instance
var producerInstance *KafkaProducer

// Init initializes the Kafka producer singleton with config.
func Init(cfg KafkaConfig) error {
	producer, err := NewKafkaProducer(cfg)
	if err != nil {
		return err
	}
	producerInstance = producer
	return nil
}

// NewQueue returns the singleton Kafka producer instance.
// Returns nil if Kafka is not enabled or not initialized.
func NewQueue() *KafkaProducer {
	return producerInstance
}

// KafkaConfig is the kafka section of the service configuration.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	// MutationTopic receives asynchronous vector mutations.
	MutationTopic string           `toml:"mutation_topic"`
	Consumers     []ConsumerConfig `toml:"consumers"`
	Enabled       bool             `toml:"enabled"`
}

// ConsumerConfig configures one consumer group.
type ConsumerConfig struct {
	Name   string   `toml:"name"` // used in log lines
	Group  string   `toml:"group"`
	Topics []string `toml:"topics"`
	// MaxAttempts bounds deliveries of a failing message before it is skipped.
	MaxAttempts int `toml:"max_attempts"`
}

const (
	defaultMutationTopic = "vector-mutations"
	defaultMaxAttempts   = 3
	retryBackoff         = 200 * time.Millisecond
)

// Validate checks the configuration when kafka is enabled.
func (c *KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers is required when kafka is enabled")
	}
	if c.MutationTopic == "" {
		c.MutationTopic = defaultMutationTopic
	}
	for i, consumer := range c.Consumers {
		if consumer.Group == "" {
			return fmt.Errorf("consumers[%d].group is required", i)
		}
		if len(consumer.Topics) == 0 {
			return fmt.Errorf("consumers[%d].topics is required", i)
		}
		if consumer.MaxAttempts < 0 {
			return fmt.Errorf("consumers[%d].max_attempts must not be negative", i)
		}
	}
	return nil
}

// KafkaConsumer runs one sarama consumer group.
type KafkaConsumer struct {
	logger      *slog.Logger
	name        string
	topics      []string
	client      sarama.ConsumerGroup
	handler     MessageHandler
	maxAttempts int
	ready       chan struct{}
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	stopOnce sync.Once
	stopErr  error
}

// NewKafkaConsumer creates a consumer group member for config.
func NewKafkaConsumer(brokers []string, config ConsumerConfig, handler MessageHandler) (*KafkaConsumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	client, err := sarama.NewConsumerGroup(brokers, config.Group, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	name := config.Name
	if name == "" {
		name = config.Group
	}

	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &KafkaConsumer{
		logger:      log.Logger("mq.consumer").With("name", name),
		name:        name,
		topics:      config.Topics,
		client:      client,
		handler:     handler,
		maxAttempts: maxAttempts,
		ready:       make(chan struct{}),
	}, nil
}

// Start joins the group and returns once the first session is set up.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	if c == nil {
		return nil
	}

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				ready: c.ready,
				deliverer: deliverer{
					handler:     c.handler,
					maxAttempts: c.maxAttempts,
					backoff:     retryBackoff,
					logger:      c.logger,
				},
			}

			if err := c.client.Consume(ctx, c.topics, handler); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("consumer error", "error", err)
				time.Sleep(time.Second)
			}

			if ctx.Err() != nil {
				return
			}

			c.ready = make(chan struct{})
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("consumer started", "topics", c.topics)
	case <-ctx.Done():
	}
	return nil
}

// Stop leaves the group and waits for the consume loop to exit. Later calls return the
// result of the first.
func (c *KafkaConsumer) Stop() error {
	if c == nil {
		return nil
	}

	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}

		c.wg.Wait()

		if c.client != nil {
			c.stopErr = c.client.Close()
		}
	})
	return c.stopErr
}

// deliverer hands a message to the handler, retrying transient failures with doubling
// backoff. It reports whether the message was applied.
type deliverer struct {
	handler     MessageHandler
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

func (d *deliverer) deliver(ctx context.Context, message *sarama.ConsumerMessage) bool {
	wait := d.backoff
	for attempt := 1; ; attempt++ {
		err := d.handler(ctx, message.Topic, message.Value)
		if err == nil {
			return true
		}

		if IsPermanent(err) || attempt >= d.maxAttempts {
			d.logger.Error("skipping message",
				"topic", message.Topic,
				"offset", message.Offset,
				"attempts", attempt,
				"error", err,
			)
			return false
		}

		d.logger.Warn("retrying message", "topic", message.Topic, "offset", message.Offset, "attempt", attempt, "error", err)
		select {
		case <-time.After(wait):
			wait *= 2
		case <-ctx.Done():
			return false
		}
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	ready chan struct{}
	deliverer
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.logger.Debug("received message",
				"topic", message.Topic,
				"partition", message.Partition,
				"offset", message.Offset,
				"key", string(message.Key),
			)

			if !h.deliver(session.Context(), message) && session.Context().Err() != nil {
				// left uncommitted for the next owner of the partition
				return nil
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// KafkaProducer publishes keyed messages synchronously.
type KafkaProducer struct {
	logger *slog.Logger
	config KafkaConfig
	client sarama.SyncProducer
}

var _ MessageQueue = (*KafkaProducer)(nil)

// NewKafkaProducer creates a producer. It returns nil when kafka is disabled.
func NewKafkaProducer(config KafkaConfig) (*KafkaProducer, error) {
	if !config.Enabled {
		return nil, nil
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	client, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return NewKafkaProducerWithClient(config, client), nil
}

// NewKafkaProducerWithClient wraps an existing sarama producer.
func NewKafkaProducerWithClient(config KafkaConfig, client sarama.SyncProducer) *KafkaProducer {
	return &KafkaProducer{
		logger: log.Logger("mq.producer"),
		config: config,
		client: client,
	}
}

// Publish sends message to topic. The key selects the partition.
func (p *KafkaProducer) Publish(ctx context.Context, topic, key string, message []byte) error {
	if p == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(message),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.client.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.Debug("message sent",
		"topic", topic,
		"key", key,
		"partition", partition,
		"offset", offset,
	)

	return nil
}

// Close closes the producer
func (p *KafkaProducer) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Subscribe is not supported by the producer; use KafkaConsumer.
func (p *KafkaProducer) Subscribe(topic string, handler MessageHandler) error {
	return fmt.Errorf("kafka producer does not support subscribe, use KafkaConsumer instead")
}
