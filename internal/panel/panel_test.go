package panel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artisthub/platform/backend/admin-service/internal/models"
	"github.com/artisthub/platform/backend/admin-service/internal/users"
	"github.com/artisthub/platform/backend/admin-service/pkg/adminclient"
)

type fakeBackend struct {
	mu       sync.Mutex
	list     func(ctx context.Context, p adminclient.ListParams) (*adminclient.UserPage, error)
	roles    func(ctx context.Context, call int) (*adminclient.RolesInfo, error)
	listed   []adminclient.ListParams
	statsN   int
	writeErr error
	assigned [][]string
	created  int
}

func (f *fakeBackend) ListUsers(ctx context.Context, p adminclient.ListParams) (*adminclient.UserPage, error) {
	f.mu.Lock()
	f.listed = append(f.listed, p)
	fn := f.list
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, p)
	}
	return pageOf(p.Page, 3, "x@y.com"), nil
}

func (f *fakeBackend) Roles(ctx context.Context) (*adminclient.RolesInfo, error) {
	f.mu.Lock()
	f.statsN++
	n, fn := f.statsN, f.roles
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, n)
	}
	return &adminclient.RolesInfo{Stats: users.Stats{UsersWithoutRole: int64(n)}}, nil
}

func (f *fakeBackend) CreateUser(ctx context.Context, req adminclient.CreateUserRequest) (*models.User, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.created++
	return &models.User{ID: 99, Email: &req.Email}, nil
}

func (f *fakeBackend) DeleteUser(ctx context.Context, id int64) (*users.DeleteResult, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return &users.DeleteResult{UserID: id}, nil
}

func (f *fakeBackend) AssignRole(ctx context.Context, id int64, role string, permissions []string) (*models.User, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.assigned = append(f.assigned, permissions)
	return &models.User{ID: id}, nil
}

func (f *fakeBackend) RemoveRole(ctx context.Context, id int64) (*models.User, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return &models.User{ID: id}, nil
}

func (f *fakeBackend) GrantSubscription(ctx context.Context, id int64, req adminclient.GrantRequest) (*adminclient.GrantResult, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return &adminclient.GrantResult{}, nil
}

func (f *fakeBackend) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listed)
}

func (f *fakeBackend) statsCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsN
}

func pageOf(page, totalPages int, emails ...string) *adminclient.UserPage {
	out := &adminclient.UserPage{Pagination: adminclient.Pagination{Page: page, Limit: 15, Total: int64(totalPages * 15), TotalPages: totalPages}}
	for i, e := range emails {
		e := e
		out.Users = append(out.Users, &models.User{ID: int64(i + 1), Email: &e})
	}
	return out
}

func TestPrevNextBounds(t *testing.T) {
	b := &fakeBackend{}
	p := New(b, 15)
	ctx := context.Background()

	require.NoError(t, p.Load(ctx))
	require.False(t, p.CanPrev())
	require.True(t, p.CanNext())

	require.NoError(t, p.NextPage(ctx))
	require.True(t, p.CanPrev())
	require.True(t, p.CanNext())

	require.NoError(t, p.SetPage(ctx, 3))
	require.True(t, p.CanPrev())
	require.False(t, p.CanNext())

	// beyond the last page clamps
	require.NoError(t, p.SetPage(ctx, 10))
	require.Equal(t, 3, p.State().Query.Page)

	calls := b.listCalls()
	require.NoError(t, p.NextPage(ctx))
	require.Equal(t, calls, b.listCalls())
}

func TestSinglePageDisablesBoth(t *testing.T) {
	b := &fakeBackend{list: func(ctx context.Context, lp adminclient.ListParams) (*adminclient.UserPage, error) {
		return pageOf(1, 1), nil
	}}
	p := New(b, 0)
	require.NoError(t, p.Load(context.Background()))
	require.False(t, p.CanPrev())
	require.False(t, p.CanNext())
	require.Equal(t, 15, p.State().Query.Limit)
}

func TestSearchAppliesOnlyOnSubmit(t *testing.T) {
	b := &fakeBackend{}
	p := New(b, 15)
	ctx := context.Background()
	require.NoError(t, p.SetPage(ctx, 2))
	before := b.listCalls()

	p.SetSearchDraft("a")
	p.SetSearchDraft("ad")
	p.SetSearchDraft(" ada ")
	require.Equal(t, before, b.listCalls())
	require.Equal(t, "", p.State().Query.Search)

	require.NoError(t, p.SubmitSearch(ctx))
	require.Equal(t, before+1, b.listCalls())
	last := b.listed[len(b.listed)-1]
	require.Equal(t, "ada", last.Search)
	require.Equal(t, 1, last.Page)
}

func TestFiltersResetPage(t *testing.T) {
	b := &fakeBackend{}
	p := New(b, 15)
	ctx := context.Background()
	require.NoError(t, p.SetPage(ctx, 2))

	require.NoError(t, p.SetRoleFilter(ctx, "support"))
	last := b.listed[len(b.listed)-1]
	require.Equal(t, 1, last.Page)
	require.Equal(t, "support", last.Role)

	require.NoError(t, p.SetSubscriptionFilter(ctx, "All"))
	last = b.listed[len(b.listed)-1]
	require.Equal(t, "", last.Subscription)
	require.Equal(t, "support", last.Role)
}

func TestFailedLoadKeepsPreviousList(t *testing.T) {
	fail := false
	b := &fakeBackend{}
	b.list = func(ctx context.Context, lp adminclient.ListParams) (*adminclient.UserPage, error) {
		if fail {
			return nil, &adminclient.APIError{Status: 500, Message: "Internal server error"}
		}
		return pageOf(lp.Page, 2, "keep@me.com"), nil
	}
	p := New(b, 15)
	ctx := context.Background()
	require.NoError(t, p.Load(ctx))

	fail = true
	require.Error(t, p.NextPage(ctx))
	st := p.State()
	require.Equal(t, NoticeLoadFailed, st.Notice)
	require.Len(t, st.Users, 1)
	require.Equal(t, "keep@me.com", st.Users[0].EmailValue())
	require.Equal(t, 1, st.Pagination.Page)
	require.False(t, st.Loading)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	firstCancelled := make(chan struct{})
	b := &fakeBackend{}
	b.list = func(ctx context.Context, lp adminclient.ListParams) (*adminclient.UserPage, error) {
		if lp.Page == 1 {
			<-release
			select {
			case <-ctx.Done():
				close(firstCancelled)
			default:
			}
			return pageOf(1, 5, "page-one@x.com"), nil
		}
		return pageOf(lp.Page, 5, "page-two@x.com"), nil
	}
	p := New(b, 15)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- p.Load(ctx) }()
	require.Eventually(t, func() bool { return b.listCalls() == 1 }, timeout, tick)

	require.NoError(t, p.SetPage(ctx, 2))
	close(release)
	require.ErrorIs(t, <-done, ErrSuperseded)
	<-firstCancelled

	st := p.State()
	require.Equal(t, 2, st.Pagination.Page)
	require.Equal(t, "page-two@x.com", st.Users[0].EmailValue())
}

func TestStaleStatsAreDiscarded(t *testing.T) {
	release := make(chan struct{})
	b := &fakeBackend{}
	b.roles = func(ctx context.Context, call int) (*adminclient.RolesInfo, error) {
		if call == 1 {
			<-release
		}
		return &adminclient.RolesInfo{Stats: users.Stats{UsersWithoutRole: int64(call)}}, nil
	}
	p := New(b, 15)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- p.LoadStats(ctx) }()
	require.Eventually(t, func() bool { return b.statsCalls() == 1 }, timeout, tick)

	require.NoError(t, p.LoadStats(ctx))
	close(release)
	require.ErrorIs(t, <-done, ErrSuperseded)
	require.Equal(t, int64(2), p.State().Stats.UsersWithoutRole)
}

func TestSuccessfulLoadClearsLoadNotice(t *testing.T) {
	fail := true
	b := &fakeBackend{}
	b.list = func(ctx context.Context, lp adminclient.ListParams) (*adminclient.UserPage, error) {
		if fail {
			return nil, &adminclient.APIError{Status: 500, Message: "Internal server error"}
		}
		return pageOf(lp.Page, 1, "back@x.com"), nil
	}
	p := New(b, 15)
	ctx := context.Background()
	require.Error(t, p.Load(ctx))
	require.Equal(t, NoticeLoadFailed, p.State().Notice)

	fail = false
	require.NoError(t, p.Load(ctx))
	st := p.State()
	require.Equal(t, "", st.Notice)
	require.Len(t, st.Users, 1)

	// other notices survive a reload
	require.NoError(t, p.CreateUser(ctx, adminclient.CreateUserRequest{Email: "new@x.com"}))
	require.Equal(t, NoticeUserCreated, p.State().Notice)
}

func TestDeleteOnLastPageMovesBack(t *testing.T) {
	total := 16
	b := &fakeBackend{}
	b.list = func(ctx context.Context, lp adminclient.ListParams) (*adminclient.UserPage, error) {
		tp := users.TotalPages(int64(total), lp.Limit)
		if lp.Page > tp {
			return pageOf(lp.Page, tp), nil
		}
		return pageOf(lp.Page, tp, "someone@x.com"), nil
	}
	p := New(b, 15)
	ctx := context.Background()
	require.NoError(t, p.SetPage(ctx, 2))
	require.Equal(t, 2, p.State().Query.Page)
	before := b.listCalls()

	total = 15
	require.NoError(t, p.DeleteUser(ctx, 16))
	require.Equal(t, before+2, b.listCalls())
	st := p.State()
	require.Equal(t, 1, st.Query.Page)
	require.Equal(t, 1, st.Pagination.TotalPages)
	require.Len(t, st.Users, 1)
	require.False(t, p.CanNext())
	require.Equal(t, NoticeUserDeleted, st.Notice)
}

func TestCreateUserRequiresEmail(t *testing.T) {
	b := &fakeBackend{}
	p := New(b, 15)
	err := p.CreateUser(context.Background(), adminclient.CreateUserRequest{FirstName: "Ada"})
	require.ErrorIs(t, err, ErrEmailRequired)
	require.Equal(t, NoticeEmailMissing, p.State().Notice)
	require.Equal(t, 0, b.created)
	require.Equal(t, 0, b.listCalls())
}

func TestMutationsRefetch(t *testing.T) {
	b := &fakeBackend{}
	p := New(b, 15)
	ctx := context.Background()

	require.NoError(t, p.CreateUser(ctx, adminclient.CreateUserRequest{Email: "a@b.com", Role: "support"}))
	require.Equal(t, 1, b.listCalls())
	require.Equal(t, 0, b.statsN)
	require.Equal(t, NoticeUserCreated, p.State().Notice)

	require.NoError(t, p.AssignRole(ctx, 5, "moderator", []string{"view_analytics"}))
	require.Equal(t, 2, b.listCalls())
	require.Equal(t, 1, b.statsN)
	require.Equal(t, [][]string{{"view_analytics"}}, b.assigned)

	require.NoError(t, p.RemoveRole(ctx, 5))
	require.Equal(t, 2, b.statsN)
	require.Equal(t, int64(2), p.State().Stats.UsersWithoutRole)

	require.NoError(t, p.GrantSubscription(ctx, 5, adminclient.GrantRequest{Plan: "creator", DurationDays: 30}))
	require.NoError(t, p.DeleteUser(ctx, 5))
	require.Equal(t, 5, b.listCalls())
	require.Equal(t, NoticeUserDeleted, p.State().Notice)
}

func TestFailedRoleSaveLeavesStateUnchanged(t *testing.T) {
	role := models.RoleModerator
	email := "mod@x.com"
	b := &fakeBackend{}
	b.list = func(ctx context.Context, lp adminclient.ListParams) (*adminclient.UserPage, error) {
		return &adminclient.UserPage{
			Users:      []*models.User{{ID: 5, Email: &email, Role: &role}},
			Pagination: adminclient.Pagination{Page: 1, Limit: 15, Total: 1, TotalPages: 1},
		}, nil
	}
	p := New(b, 15)
	ctx := context.Background()
	require.NoError(t, p.Load(ctx))

	b.writeErr = &adminclient.APIError{Status: 500, Message: "Internal server error"}
	err := p.AssignRole(ctx, 5, "admin", nil)
	var apiErr *adminclient.APIError
	require.True(t, errors.As(err, &apiErr))

	st := p.State()
	require.Equal(t, "Internal server error", st.Notice)
	require.Equal(t, models.RoleModerator, st.Users[0].EffectiveRole())
	require.Equal(t, 1, b.listCalls())
	require.Equal(t, 0, b.statsN)
}

func TestDismissNotice(t *testing.T) {
	p := New(&fakeBackend{}, 15)
	_ = p.CreateUser(context.Background(), adminclient.CreateUserRequest{})
	p.DismissNotice()
	require.Equal(t, "", p.State().Notice)
}
