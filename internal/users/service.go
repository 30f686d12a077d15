package users

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/artisthub/platform/backend/admin-service/internal/audit"
	"github.com/artisthub/platform/backend/admin-service/internal/events"
	"github.com/artisthub/platform/backend/admin-service/internal/models"
	"github.com/artisthub/platform/backend/admin-service/pkg/logger"
)

// Actor is the authenticated admin performing an operation.
type Actor struct {
	ID    int64
	Email string
}

// SessionRevoker ends the sessions of a deleted user.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID int64) (int, error)
}

// Limits bound directory paging and manual grants.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
	MaxGrantDays    int
}

var DefaultLimits = Limits{DefaultPageSize: 15, MaxPageSize: 100, MaxGrantDays: 3650}

// Service encapsulates user-related business logic
type Service struct {
	repo           Repository
	audit          audit.Recorder
	events         events.Publisher
	sessions       SessionRevoker
	limits         Limits
	now            func() time.Time
	bootstrapEmail string
}

type Option func(*Service)

func WithAudit(r audit.Recorder) Option { return func(s *Service) { s.audit = r } }

func WithEvents(p events.Publisher) Option { return func(s *Service) { s.events = p } }

func WithSessions(r SessionRevoker) Option { return func(s *Service) { s.sessions = r } }

// WithLimits overrides the non-zero fields of DefaultLimits.
func WithLimits(l Limits) Option {
	return func(s *Service) {
		if l.DefaultPageSize > 0 {
			s.limits.DefaultPageSize = l.DefaultPageSize
		}
		if l.MaxPageSize > 0 {
			s.limits.MaxPageSize = l.MaxPageSize
		}
		if l.MaxGrantDays > 0 {
			s.limits.MaxGrantDays = l.MaxGrantDays
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithBootstrapAdmin promotes the account with this email to admin on login
// while no admin exists.
func WithBootstrapAdmin(email string) Option {
	return func(s *Service) { s.bootstrapEmail = models.NormalizeEmail(email) }
}

func NewService(r Repository, opts ...Option) *Service {
	s := &Service{
		repo:   r,
		limits: DefaultLimits,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// ListParams are raw directory query parameters as received from a client.
type ListParams struct {
	Page         int
	Limit        int
	Search       string
	Role         string
	Subscription string
}

// Page is one page of the directory.
type Page struct {
	Users      []*models.User
	Page       int
	Limit      int
	Total      int64
	TotalPages int
}

// NormalizeQuery validates filters and applies paging defaults.
func (s *Service) NormalizeQuery(p ListParams) (Query, error) {
	q := Query{Page: p.Page, Limit: p.Limit, Search: strings.TrimSpace(p.Search)}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = s.limits.DefaultPageSize
	}
	if q.Limit > s.limits.MaxPageSize {
		q.Limit = s.limits.MaxPageSize
	}
	if r := strings.TrimSpace(p.Role); r != "" && r != "all" {
		role, err := models.ParseRole(r)
		if err != nil {
			return Query{}, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		q.Role = role
	}
	if sub := strings.ToLower(strings.TrimSpace(p.Subscription)); sub != "" && sub != "all" {
		if sub != SubscriptionNone {
			plan, err := models.ParsePlan(sub)
			if err != nil {
				return Query{}, fmt.Errorf("%w: %w", ErrInvalid, err)
			}
			sub = string(plan)
		}
		q.Subscription = sub
	}
	return q, nil
}

// ListUsers returns one page of the directory, newest users first.
func (s *Service) ListUsers(ctx context.Context, p ListParams) (*Page, error) {
	q, err := s.NormalizeQuery(p)
	if err != nil {
		return nil, err
	}
	users, total, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Page{
		Users:      users,
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: TotalPages(total, q.Limit),
	}, nil
}

// TotalPages is ceil(total/limit), never less than 1.
func TotalPages(total int64, limit int) int {
	if limit < 1 || total <= 0 {
		return 1
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	return s.repo.GetBySub(ctx, sub)
}

// CreateUserInput is an "Add User" request. Only Email is required.
type CreateUserInput struct {
	Email     string
	FirstName string
	LastName  string
	Role      string
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// CreateUser creates a bare account without credentials; the auth provider
// links it by email on first login.
func (s *Service) CreateUser(ctx context.Context, actor Actor, in CreateUserInput) (*models.User, error) {
	email := models.NormalizeEmail(in.Email)
	if email == "" {
		return nil, invalid("email is required")
	}
	if !validEmail(email) {
		return nil, invalid("invalid email address %q", in.Email)
	}
	u := &models.User{
		Email:       &email,
		FirstName:   models.StringPtr(in.FirstName),
		LastName:    models.StringPtr(in.LastName),
		Permissions: []models.Permission{},
	}
	if r := strings.TrimSpace(in.Role); r != "" {
		role, err := models.ParseRole(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		if role != models.RoleUser {
			now := s.now()
			by := actor.ID
			u.Role = &role
			u.RoleGrantedAt = &now
			u.RoleGrantedBy = &by
		}
	}
	created, err := s.repo.Create(ctx, u)
	if err != nil {
		return nil, err
	}
	details := map[string]interface{}{"email": email}
	if created.Role != nil {
		details["role"] = string(*created.Role)
	}
	s.record(ctx, actor, audit.ActionUserCreated, created.ID, details)
	events.Emit(ctx, s.events, events.New(events.UserCreated, actor.ID, created.ID, details))
	return created, nil
}

// AssignRole overwrites role and permissions together. The permission set is
// taken as given; it is not derived from the role. Assigning "user" stores no
// role, the same as CreateUser does, so plain users carry no permissions.
func (s *Service) AssignRole(ctx context.Context, actor Actor, id int64, roleName string, permissions []string) (*models.User, error) {
	if strings.TrimSpace(roleName) == "" {
		return nil, invalid("role is required")
	}
	role, err := models.ParseRole(roleName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	perms, err := models.ParsePermissions(permissions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if actor.ID == id && role != models.RoleAdmin {
		return nil, invalid("you cannot remove your own admin role")
	}
	now := s.now()
	by := actor.ID
	upd := RoleUpdate{Role: &role, Permissions: perms, GrantedAt: &now, GrantedBy: &by}
	if role == models.RoleUser {
		upd = RoleUpdate{}
		perms = []models.Permission{}
	}
	u, err := s.repo.SetRole(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	details := map[string]interface{}{"role": string(role), "permissions": perms}
	s.record(ctx, actor, audit.ActionRoleAssigned, id, details)
	events.Emit(ctx, s.events, events.New(events.UserRoleAssigned, actor.ID, id, details))
	return u, nil
}

// RemoveRole resets the user to a plain user with no permissions.
func (s *Service) RemoveRole(ctx context.Context, actor Actor, id int64) (*models.User, error) {
	if actor.ID == id {
		return nil, invalid("you cannot remove your own admin role")
	}
	before, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u, err := s.repo.SetRole(ctx, id, RoleUpdate{})
	if err != nil {
		return nil, err
	}
	details := map[string]interface{}{"previousRole": string(before.EffectiveRole())}
	s.record(ctx, actor, audit.ActionRoleRemoved, id, details)
	events.Emit(ctx, s.events, events.New(events.UserRoleRemoved, actor.ID, id, details))
	return u, nil
}

// GrantInput is a manual subscription grant.
type GrantInput struct {
	Plan         string
	Status       string
	DurationDays int
	Reason       string
}

// GrantSubscription sets plan and status and moves the end date to
// now + DurationDays*24h, replacing any previous plan. It bypasses payment.
func (s *Service) GrantSubscription(ctx context.Context, actor Actor, id int64, in GrantInput) (*models.User, error) {
	if strings.TrimSpace(in.Plan) == "" {
		return nil, invalid("plan is required")
	}
	plan, err := models.ParsePlan(in.Plan)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	status := models.StatusActive
	if strings.TrimSpace(in.Status) != "" {
		status, err = models.ParseSubscriptionStatus(in.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		if status == models.StatusCancelled {
			return nil, invalid("status must be active or trialing")
		}
	}
	if in.DurationDays < 1 || in.DurationDays > s.limits.MaxGrantDays {
		return nil, invalid("durationDays must be between 1 and %d", s.limits.MaxGrantDays)
	}
	end := s.now().Add(time.Duration(in.DurationDays) * 24 * time.Hour)
	u, err := s.repo.UpdateSubscription(ctx, id, SubscriptionUpdate{Plan: &plan, Status: &status, End: &end})
	if err != nil {
		return nil, err
	}
	details := map[string]interface{}{
		"plan":            string(plan),
		"status":          string(status),
		"durationDays":    in.DurationDays,
		"subscriptionEnd": end,
	}
	if r := strings.TrimSpace(in.Reason); r != "" {
		details["reason"] = r
	}
	s.record(ctx, actor, audit.ActionSubscriptionGranted, id, details)
	events.Emit(ctx, s.events, events.New(events.SubscriptionGranted, actor.ID, id, details))
	return u, nil
}

// CancelSubscription marks the plan cancelled. Plan and end date are kept so
// the user keeps access until the end of the paid-for period.
func (s *Service) CancelSubscription(ctx context.Context, actor Actor, id int64) (*models.User, error) {
	before, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.SubscriptionPlan == nil {
		return nil, invalid("user has no subscription")
	}
	status := models.StatusCancelled
	u, err := s.repo.UpdateSubscription(ctx, id, SubscriptionUpdate{Status: &status})
	if err != nil {
		return nil, err
	}
	details := map[string]interface{}{"plan": string(*before.SubscriptionPlan)}
	s.record(ctx, actor, audit.ActionSubscriptionCancelled, id, details)
	events.Emit(ctx, s.events, events.New(events.SubscriptionCancelled, actor.ID, id, details))
	return u, nil
}

// DeleteResult reports what a hard delete removed.
type DeleteResult struct {
	UserID              int64  `json:"userId"`
	Email               string `json:"email,omitempty"`
	RoleCleared         bool   `json:"roleCleared"`
	SubscriptionCleared bool   `json:"subscriptionCleared"`
	SessionsRevoked     int    `json:"sessionsRevoked"`
}

// DeleteUser removes the record and revokes its sessions. Downstream services
// learn about it through the user.deleted event.
func (s *Service) DeleteUser(ctx context.Context, actor Actor, id int64) (*DeleteResult, error) {
	if actor.ID == id {
		return nil, invalid("you cannot delete your own account")
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &DeleteResult{
		UserID:              deleted.ID,
		Email:               deleted.EmailValue(),
		RoleCleared:         deleted.Role != nil,
		SubscriptionCleared: deleted.SubscriptionPlan != nil,
	}
	if s.sessions != nil {
		n, err := s.sessions.RevokeUser(ctx, id)
		if err != nil {
			logger.Warnf("revoke sessions of deleted user %d: %v", id, err)
		}
		res.SessionsRevoked = n
	}
	details := map[string]interface{}{
		"email":               res.Email,
		"roleCleared":         res.RoleCleared,
		"subscriptionCleared": res.SubscriptionCleared,
		"sessionsRevoked":     res.SessionsRevoked,
	}
	s.record(ctx, actor, audit.ActionUserDeleted, id, details)
	events.Emit(ctx, s.events, events.New(events.UserDeleted, actor.ID, id, details))
	return res, nil
}

// RoleCount is one row of the role breakdown.
type RoleCount struct {
	Role  models.Role `json:"role"`
	Count int64       `json:"count"`
}

// Stats is the aggregate shown above the directory.
type Stats struct {
	ByRole           []RoleCount `json:"byRole"`
	UsersWithoutRole int64       `json:"usersWithoutRole"`
	TotalUsers       int64       `json:"totalUsers"`
}

// RoleStats lists every role, including those nobody holds.
func (s *Service) RoleStats(ctx context.Context) (*Stats, error) {
	rc, err := s.repo.CountByRole(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{ByRole: make([]RoleCount, 0, len(models.Roles)), UsersWithoutRole: rc.WithoutRole, TotalUsers: rc.Total}
	for _, r := range models.Roles {
		st.ByRole = append(st.ByRole, RoleCount{Role: r, Count: rc.ByRole[r]})
	}
	return st, nil
}

// LinkFromClaims resolves the account for a verified login. Accounts are found
// by subject, then by email (accounts created from the panel), and created
// otherwise.
func (s *Service) LinkFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, invalid("token has no subject")
	}
	email, _ := claims["email"].(string)
	email = models.NormalizeEmail(email)

	u, err := s.repo.GetBySub(ctx, sub)
	if err != nil {
		return nil, err
	}
	if u == nil && email != "" {
		existing, err := s.repo.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if u, err = s.repo.LinkSub(ctx, existing.ID, sub); err != nil {
				return nil, err
			}
			logger.Infof("linked user %d to subject %s", u.ID, sub)
		}
	}
	if u == nil {
		given, _ := claims["given_name"].(string)
		family, _ := claims["family_name"].(string)
		nu := &models.User{
			Sub:         sub,
			Email:       models.StringPtr(email),
			FirstName:   models.StringPtr(given),
			LastName:    models.StringPtr(family),
			Permissions: []models.Permission{},
		}
		if u, err = s.repo.Create(ctx, nu); err != nil {
			return nil, err
		}
		events.Emit(ctx, s.events, events.New(events.UserCreated, 0, u.ID, map[string]interface{}{"email": email, "source": "login"}))
	}
	return s.maybeBootstrap(ctx, u)
}

func (s *Service) maybeBootstrap(ctx context.Context, u *models.User) (*models.User, error) {
	if s.bootstrapEmail == "" || u.EmailValue() != s.bootstrapEmail || u.EffectiveRole() == models.RoleAdmin {
		return u, nil
	}
	rc, err := s.repo.CountByRole(ctx)
	if err != nil {
		return nil, err
	}
	if rc.ByRole[models.RoleAdmin] > 0 {
		return u, nil
	}
	role := models.RoleAdmin
	now := s.now()
	perms := append([]models.Permission{}, models.Permissions...)
	promoted, err := s.repo.SetRole(ctx, u.ID, RoleUpdate{Role: &role, Permissions: perms, GrantedAt: &now})
	if err != nil {
		return nil, err
	}
	logger.Warnf("bootstrapped user %d (%s) as the first admin", u.ID, s.bootstrapEmail)
	s.record(ctx, Actor{}, audit.ActionRoleAssigned, u.ID, map[string]interface{}{"role": string(role), "bootstrap": true})
	return promoted, nil
}

func (s *Service) record(ctx context.Context, actor Actor, action audit.Action, target int64, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		ActorID:      actor.ID,
		ActorEmail:   actor.Email,
		Action:       action,
		TargetUserID: target,
		Details:      details,
	})
	if err != nil {
		logger.Errorf("audit %s on user %d: %v", action, target, err)
	}
}
