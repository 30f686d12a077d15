package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/artisthub/platform/backend/admin-service/pkg/logger"
	"github.com/artisthub/platform/backend/admin-service/pkg/metrics"
)

// Type is the routing key of a domain event.
type Type string

const (
	UserCreated           Type = "user.created"
	UserDeleted           Type = "user.deleted"
	UserRoleAssigned      Type = "user.role_assigned"
	UserRoleRemoved       Type = "user.role_removed"
	SubscriptionGranted   Type = "user.subscription_granted"
	SubscriptionCancelled Type = "user.subscription_cancelled"
)

// Event is published after an admin mutation has been committed.
type Event struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	OccurredAt time.Time              `json:"occurredAt"`
	ActorID    int64                  `json:"actorId"`
	UserID     int64                  `json:"userId"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// New fills in ID and timestamp.
func New(t Type, actorID, userID int64, data map[string]interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		ActorID:    actorID,
		UserID:     userID,
		Data:       data,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Emit publishes e and swallows the error after logging it; the mutation that
// produced the event has already been committed.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		metrics.EventsPublished.WithLabelValues(string(e.Type), "error").Inc()
		logger.Warnf("publish %s for user %d: %v", e.Type, e.UserID, err)
		return
	}
	metrics.EventsPublished.WithLabelValues(string(e.Type), "ok").Inc()
}

// LogPublisher writes events to the debug log. Used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, e Event) error {
	logger.Debugf("event %s id=%s actor=%d user=%d data=%v", e.Type, e.ID, e.ActorID, e.UserID, e.Data)
	return nil
}
