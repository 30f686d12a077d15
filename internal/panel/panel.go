// Package panel holds the state of the admin user directory: the applied query,
// the visible page of users, role statistics and the current notice. Every
// write is followed by a refetch; nothing is updated optimistically.
package panel

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/artisthub/platform/backend/admin-service/internal/models"
	"github.com/artisthub/platform/backend/admin-service/internal/users"
	"github.com/artisthub/platform/backend/admin-service/pkg/adminclient"
	"github.com/artisthub/platform/backend/admin-service/pkg/logger"
)

// Notices shown after loads and mutations.
const (
	NoticeLoadFailed   = "Failed to load users"
	NoticeStatsFailed  = "Failed to load role statistics"
	NoticeEmailMissing = "Email is required"
	NoticeUserCreated  = "User created"
	NoticeUserDeleted  = "User deleted"
	NoticeRoleAssigned = "Role assigned"
	NoticeRoleRemoved  = "Role removed"
	NoticeGranted      = "Subscription granted"
)

// ErrSuperseded is returned by a load whose response arrived after a newer
// load was started. The response is dropped.
var ErrSuperseded = errors.New("superseded by a newer request")

// ErrEmailRequired is returned by CreateUser before any request is sent.
var ErrEmailRequired = errors.New("email is required")

// Backend is the subset of adminclient.Client the panel calls.
type Backend interface {
	ListUsers(ctx context.Context, p adminclient.ListParams) (*adminclient.UserPage, error)
	Roles(ctx context.Context) (*adminclient.RolesInfo, error)
	CreateUser(ctx context.Context, req adminclient.CreateUserRequest) (*models.User, error)
	DeleteUser(ctx context.Context, id int64) (*users.DeleteResult, error)
	AssignRole(ctx context.Context, id int64, role string, permissions []string) (*models.User, error)
	RemoveRole(ctx context.Context, id int64) (*models.User, error)
	GrantSubscription(ctx context.Context, id int64, req adminclient.GrantRequest) (*adminclient.GrantResult, error)
}

// Query is the applied directory query. Empty filters mean "all".
type Query struct {
	Page         int
	Limit        int
	Search       string
	Role         string
	Subscription string
}

type State struct {
	Query       Query
	Users       []*models.User
	Pagination  adminclient.Pagination
	Stats       *users.Stats
	SearchDraft string
	Notice      string
	Loading     bool
}

// Panel is safe for concurrent use. Loads may overlap; only the latest one
// is applied.
type Panel struct {
	backend Backend

	mu          sync.Mutex
	state       State
	gen         uint64
	cancel      context.CancelFunc
	statsGen    uint64
	statsCancel context.CancelFunc
}

func New(b Backend, pageSize int) *Panel {
	if pageSize <= 0 {
		pageSize = users.DefaultLimits.DefaultPageSize
	}
	return &Panel{backend: b, state: State{Query: Query{Page: 1, Limit: pageSize}}}
}

// State returns a snapshot. The Users slice is shared; callers must not modify it.
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Panel) CanPrev() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Query.Page > 1
}

func (p *Panel) CanNext() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Query.Page < p.state.Pagination.TotalPages
}

func (p *Panel) DismissNotice() {
	p.mu.Lock()
	p.state.Notice = ""
	p.mu.Unlock()
}

// Load fetches the directory for the current query. On failure the previous
// list stays visible and the notice is set. When the directory shrank below
// the current page, the page is clamped to the last one and fetched again.
func (p *Panel) Load(ctx context.Context) error {
	gen, err := p.load(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	tp := p.state.Pagination.TotalPages
	shrunk := gen == p.gen && tp > 0 && p.state.Query.Page > tp
	if shrunk {
		p.state.Query.Page = tp
	}
	p.mu.Unlock()
	if !shrunk {
		return nil
	}
	_, err = p.load(ctx)
	return err
}

func (p *Panel) load(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	q := p.state.Query
	p.state.Loading = true
	p.mu.Unlock()
	defer cancel()

	page, err := p.backend.ListUsers(ctx, adminclient.ListParams{
		Page:         q.Page,
		Limit:        q.Limit,
		Search:       q.Search,
		Role:         q.Role,
		Subscription: q.Subscription,
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return gen, ErrSuperseded
	}
	p.cancel = nil
	p.state.Loading = false
	if err != nil {
		logger.Warnf("directory load page=%d failed: %v", q.Page, err)
		p.state.Notice = NoticeLoadFailed
		return gen, err
	}
	if p.state.Notice == NoticeLoadFailed {
		p.state.Notice = ""
	}
	p.state.Users = page.Users
	p.state.Pagination = page.Pagination
	return gen, nil
}

// LoadStats refreshes the role statistics. Like Load, only the latest call
// is applied.
func (p *Panel) LoadStats(ctx context.Context) error {
	p.mu.Lock()
	p.statsGen++
	gen := p.statsGen
	if p.statsCancel != nil {
		p.statsCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.statsCancel = cancel
	p.mu.Unlock()
	defer cancel()

	info, err := p.backend.Roles(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.statsGen {
		return ErrSuperseded
	}
	p.statsCancel = nil
	if err != nil {
		logger.Warnf("role stats load failed: %v", err)
		p.state.Notice = NoticeStatsFailed
		return err
	}
	stats := info.Stats
	p.state.Stats = &stats
	return nil
}

func (p *Panel) update(fn func(q *Query)) {
	p.mu.Lock()
	fn(&p.state.Query)
	p.mu.Unlock()
}

// SetPage moves to page n, clamped to [1, totalPages], and reloads.
func (p *Panel) SetPage(ctx context.Context, n int) error {
	p.update(func(q *Query) {
		if tp := p.state.Pagination.TotalPages; tp > 0 && n > tp {
			n = tp
		}
		if n < 1 {
			n = 1
		}
		q.Page = n
	})
	return p.Load(ctx)
}

func (p *Panel) NextPage(ctx context.Context) error {
	if !p.CanNext() {
		return nil
	}
	return p.SetPage(ctx, p.State().Query.Page+1)
}

func (p *Panel) PrevPage(ctx context.Context) error {
	if !p.CanPrev() {
		return nil
	}
	return p.SetPage(ctx, p.State().Query.Page-1)
}

func normalizeFilter(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "all" {
		return ""
	}
	return v
}

// SetRoleFilter applies a role filter ("all" or "" clears it), returns to the
// first page and reloads.
func (p *Panel) SetRoleFilter(ctx context.Context, role string) error {
	p.update(func(q *Query) {
		q.Role = normalizeFilter(role)
		q.Page = 1
	})
	return p.Load(ctx)
}

func (p *Panel) SetSubscriptionFilter(ctx context.Context, plan string) error {
	p.update(func(q *Query) {
		q.Subscription = normalizeFilter(plan)
		q.Page = 1
	})
	return p.Load(ctx)
}

// SetSearchDraft records typed text without querying.
func (p *Panel) SetSearchDraft(s string) {
	p.mu.Lock()
	p.state.SearchDraft = s
	p.mu.Unlock()
}

// SubmitSearch applies the draft, returns to page 1 and reloads.
func (p *Panel) SubmitSearch(ctx context.Context) error {
	p.mu.Lock()
	p.state.Query.Search = strings.TrimSpace(p.state.SearchDraft)
	p.state.Query.Page = 1
	p.mu.Unlock()
	return p.Load(ctx)
}

// mutationFailed turns a write error into the notice. The visible state is
// left untouched.
func (p *Panel) mutationFailed(op string, err error) error {
	msg := err.Error()
	var apiErr *adminclient.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	logger.Warnf("%s failed: %v", op, err)
	p.mu.Lock()
	p.state.Notice = msg
	p.mu.Unlock()
	return err
}

func (p *Panel) succeeded(ctx context.Context, notice string, withStats bool) error {
	p.mu.Lock()
	p.state.Notice = notice
	p.mu.Unlock()
	err := p.Load(ctx)
	if withStats {
		if serr := p.LoadStats(ctx); err == nil {
			err = serr
		}
	}
	if errors.Is(err, ErrSuperseded) {
		return nil
	}
	return err
}

// CreateUser requires an email before sending anything.
func (p *Panel) CreateUser(ctx context.Context, req adminclient.CreateUserRequest) error {
	if strings.TrimSpace(req.Email) == "" {
		p.mu.Lock()
		p.state.Notice = NoticeEmailMissing
		p.mu.Unlock()
		return ErrEmailRequired
	}
	if _, err := p.backend.CreateUser(ctx, req); err != nil {
		return p.mutationFailed("create user", err)
	}
	return p.succeeded(ctx, NoticeUserCreated, false)
}

func (p *Panel) DeleteUser(ctx context.Context, id int64) error {
	if _, err := p.backend.DeleteUser(ctx, id); err != nil {
		return p.mutationFailed("delete user", err)
	}
	return p.succeeded(ctx, NoticeUserDeleted, true)
}

// AssignRole sends the complete permission set chosen in the editor.
func (p *Panel) AssignRole(ctx context.Context, id int64, role string, permissions []string) error {
	if _, err := p.backend.AssignRole(ctx, id, role, permissions); err != nil {
		return p.mutationFailed("assign role", err)
	}
	return p.succeeded(ctx, NoticeRoleAssigned, true)
}

func (p *Panel) RemoveRole(ctx context.Context, id int64) error {
	if _, err := p.backend.RemoveRole(ctx, id); err != nil {
		return p.mutationFailed("remove role", err)
	}
	return p.succeeded(ctx, NoticeRoleRemoved, true)
}

func (p *Panel) GrantSubscription(ctx context.Context, id int64, req adminclient.GrantRequest) error {
	if req.Status == "" {
		req.Status = string(models.StatusActive)
	}
	if _, err := p.backend.GrantSubscription(ctx, id, req); err != nil {
		return p.mutationFailed("grant subscription", err)
	}
	return p.succeeded(ctx, NoticeGranted, false)
}
