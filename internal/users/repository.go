package users

import (
	"context"
	"errors"
	"time"

	"github.com/artisthub/platform/backend/admin-service/internal/models"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already in use")
	ErrInvalid    = errors.New("invalid request")
)

// SubscriptionNone filters users that have no plan at all.
const SubscriptionNone = "none"

// Query is a normalized directory query. Zero Role and Subscription mean "any".
type Query struct {
	Page         int
	Limit        int
	Search       string
	Role         models.Role
	Subscription string
}

// Offset of the first row of the page.
func (q Query) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// RoleUpdate overwrites the role fields of a user. A nil Role clears the role,
// permissions and grant metadata.
type RoleUpdate struct {
	Role        *models.Role
	Permissions []models.Permission
	GrantedAt   *time.Time
	GrantedBy   *int64
}

// SubscriptionUpdate sets the non-nil fields.
type SubscriptionUpdate struct {
	Plan   *models.Plan
	Status *models.SubscriptionStatus
	End    *time.Time
}

// RoleCounts aggregates the directory by role. ByRole only holds explicitly
// assigned roles.
type RoleCounts struct {
	ByRole      map[models.Role]int64
	WithoutRole int64
	Total       int64
}

// Repository persists user records. Get, SetRole, UpdateSubscription, LinkSub
// and Delete return ErrNotFound for unknown ids; GetBySub and GetByEmail return
// (nil, nil) when nothing matches.
type Repository interface {
	List(ctx context.Context, q Query) ([]*models.User, int64, error)
	Get(ctx context.Context, id int64) (*models.User, error)
	GetBySub(ctx context.Context, sub string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, u *models.User) (*models.User, error)
	SetRole(ctx context.Context, id int64, upd RoleUpdate) (*models.User, error)
	UpdateSubscription(ctx context.Context, id int64, upd SubscriptionUpdate) (*models.User, error)
	LinkSub(ctx context.Context, id int64, sub string) (*models.User, error)
	Delete(ctx context.Context, id int64) (*models.User, error)
	CountByRole(ctx context.Context) (RoleCounts, error)
}
