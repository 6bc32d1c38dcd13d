package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/climate-atlas/boundary-api/internal/services"
)

// PubSubInvalidationPublisher publishes boundary invalidation events to a Pub/Sub topic.
type PubSubInvalidationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.InvalidationPublisher = (*PubSubInvalidationPublisher)(nil)

// NewPubSubInvalidationPublisher constructs a Pub/Sub backed invalidation publisher.
func NewPubSubInvalidationPublisher(topic *pubsub.Topic) (*PubSubInvalidationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub invalidation publisher: topic is required")
	}
	return &PubSubInvalidationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishInvalidation enqueues an invalidation event on the configured topic.
func (p *PubSubInvalidationPublisher) PublishInvalidation(ctx context.Context, message services.BoundaryInvalidationMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub invalidation publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal invalidation event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "country", message.Country)
	setAttr(attrs, "dataKey", message.DataKey)
	setAttr(attrs, "reason", message.Reason)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish invalidation event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// RunInvalidationSubscriber receives invalidation events and feeds them to the
// handler until the context is cancelled. Messages that fail to decode are
// acked and dropped so a poison message cannot wedge the subscription.
func RunInvalidationSubscriber(ctx context.Context, sub *pubsub.Subscription, handler func(context.Context, services.BoundaryInvalidationMessage)) error {
	if sub == nil {
		return errors.New("invalidation subscriber: subscription is required")
	}
	if handler == nil {
		return errors.New("invalidation subscriber: handler is required")
	}

	err := sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var event services.BoundaryInvalidationMessage
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			msg.Ack()
			return
		}
		if strings.TrimSpace(event.Country) == "" {
			event.Country = msg.Attributes["country"]
		}
		handler(ctx, event)
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("invalidation subscriber: %w", err)
	}
	return nil
}
