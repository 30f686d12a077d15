package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action names an admin operation recorded in the log.
type Action string

const (
	ActionUserCreated           Action = "user.created"
	ActionUserDeleted           Action = "user.deleted"
	ActionRoleAssigned          Action = "role.assigned"
	ActionRoleRemoved           Action = "role.removed"
	ActionSubscriptionGranted   Action = "subscription.granted"
	ActionSubscriptionCancelled Action = "subscription.cancelled"
)

// Entry records who did what to which user, and when.
type Entry struct {
	ID           string                 `bson:"_id" json:"id"`
	At           time.Time              `bson:"at" json:"at"`
	ActorID      int64                  `bson:"actorId" json:"actorId"`
	ActorEmail   string                 `bson:"actorEmail,omitempty" json:"actorEmail,omitempty"`
	Action       Action                 `bson:"action" json:"action"`
	TargetUserID int64                  `bson:"targetUserId" json:"targetUserId"`
	Details      map[string]interface{} `bson:"details,omitempty" json:"details,omitempty"`
}

// Filter narrows List. Zero TargetUserID means all users.
type Filter struct {
	TargetUserID int64
	Limit        int
	Since        time.Time
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Repository stores entries, newest first on List.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) ([]*Entry, error)
}

// Recorder is the write side used by other services.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Service stamps entries and delegates to the repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(r Repository) *Service {
	return &Service{repo: r, now: func() time.Time { return time.Now().UTC() }}
}

// Record assigns an ID and timestamp and appends the entry.
func (s *Service) Record(ctx context.Context, e Entry) error {
	if s.repo == nil {
		return errors.New("audit repository not configured")
	}
	if e.Action == "" {
		return errors.New("audit entry without action")
	}
	e.ID = uuid.NewString()
	e.At = s.now()
	if err := s.repo.Append(ctx, &e); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// List returns recent entries; Limit is clamped to [1, 500] with a default of 50.
func (s *Service) List(ctx context.Context, f Filter) ([]*Entry, error) {
	f.Limit = clampLimit(f.Limit)
	return s.repo.List(ctx, f)
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
