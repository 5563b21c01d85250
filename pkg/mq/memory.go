package mq

import (
	"context"
	"sync"
)

// Message is a message recorded by InMemoryQueue.
type Message struct {
	Key   string
	Value []byte
}

// InMemoryQueue is a synchronous in-process queue for tests and single-node setups.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]MessageHandler
	messages map[string][]Message
}

var _ MessageQueue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates an empty queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]MessageHandler),
		messages: make(map[string][]Message),
	}
}

// Publish records the message and hands it to every subscriber of topic, in order.
// The first handler error is returned.
func (q *InMemoryQueue) Publish(ctx context.Context, topic, key string, message []byte) error {
	q.mu.Lock()
	q.messages[topic] = append(q.messages[topic], Message{Key: key, Value: message})
	handlers := append([]MessageHandler(nil), q.handlers[topic]...)
	q.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(ctx, topic, message); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers handler for topic.
func (q *InMemoryQueue) Subscribe(topic string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close is a no-op.
func (q *InMemoryQueue) Close() error {
	return nil
}

// Messages returns the messages published to topic.
func (q *InMemoryQueue) Messages(topic string) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.messages[topic]...)
}
