package mq

import (
	"context"
	"errors"
)

// MessageHandler handles one message. A returned error is logged by the consumer and the
// message is still committed.
type MessageHandler func(ctx context.Context, topic string, message []byte) error

// MessageQueue publishes keyed messages. Messages with the same key keep their order.
type MessageQueue interface {
	Publish(ctx context.Context, topic, key string, message []byte) error
	Subscribe(topic string, handler MessageHandler) error
	Close() error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that redelivery cannot fix, such as an undecodable
// message. Consumers skip such messages without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked by Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
