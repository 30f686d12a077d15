package events

import (
	"context"
	"time"
)

type jsonPublisher interface {
	PublishJSON(ctx context.Context, key string, messageID string, v any) error
}

// BrokerPublisher routes events to a topic exchange keyed by event type.
type BrokerPublisher struct {
	pub     jsonPublisher
	timeout time.Duration
}

// NewBrokerPublisher wraps an mq.Publisher (or anything with PublishJSON).
func NewBrokerPublisher(pub jsonPublisher) *BrokerPublisher {
	return &BrokerPublisher{pub: pub, timeout: 3 * time.Second}
}

func (b *BrokerPublisher) Publish(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.pub.PublishJSON(ctx, string(e.Type), e.ID, e)
}
