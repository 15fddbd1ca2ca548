package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidEmitter = errors.New("events: invalid emitter config")

type queuePublisher interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
}

// QueueEmitter publishes each event as JSON to the topic named by the event's
// version string.
type QueueEmitter struct {
	producer queuePublisher
}

func NewQueueEmitter(producer queuePublisher) (*QueueEmitter, error) {
	if producer == nil {
		return nil, fmt.Errorf("%w: nil producer", ErrInvalidEmitter)
	}
	return &QueueEmitter{producer: producer}, nil
}

func (q *QueueEmitter) Emit(ctx context.Context, ev Event) error {
	topic := ev.EventTopic()
	if err := checkTopic(topic); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", topic, err)
	}
	if err := q.producer.Publish(ctx, topic, []byte(ev.EventKey()), payload); err != nil {
		return fmt.Errorf("events: publish %s: %w", topic, err)
	}
	return nil
}
