package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artisthub/platform/backend/admin-service/internal/audit"
	"github.com/artisthub/platform/backend/admin-service/internal/events"
	"github.com/artisthub/platform/backend/admin-service/internal/models"
)

var admin = Actor{ID: 1000, Email: "root@example.com"}

type capturePublisher struct {
	events []events.Event
}

func (c *capturePublisher) Publish(ctx context.Context, e events.Event) error {
	c.events = append(c.events, e)
	return nil
}

type fakeRevoker struct {
	n   int
	ids []int64
}

func (f *fakeRevoker) RevokeUser(ctx context.Context, id int64) (int, error) {
	f.ids = append(f.ids, id)
	return f.n, nil
}

type fixture struct {
	svc    *Service
	repo   *MemoryRepository
	audit  *audit.Service
	pub    *capturePublisher
	revoke *fakeRevoker
	now    time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:   NewMemoryRepository(),
		audit:  audit.NewService(audit.NewMemoryRepository()),
		pub:    &capturePublisher{},
		revoke: &fakeRevoker{n: 2},
		now:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	base := []Option{
		WithAudit(f.audit),
		WithEvents(f.pub),
		WithSessions(f.revoke),
		WithClock(func() time.Time { return f.now }),
	}
	f.svc = NewService(f.repo, append(base, opts...)...)
	return f
}

func (f *fixture) create(t *testing.T, email, role string) *models.User {
	t.Helper()
	u, err := f.svc.CreateUser(context.Background(), admin, CreateUserInput{Email: email, Role: role})
	require.NoError(t, err)
	return u
}

func emails(users []*models.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.EmailValue())
	}
	return out
}

func TestCreateUser_SupportVisibleUnderRoleFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "other@b.com", "")
	u := f.create(t, "A@B.com ", "support")

	require.Equal(t, "a@b.com", u.EmailValue())
	require.Equal(t, models.RoleSupport, u.EffectiveRole())
	require.NotNil(t, u.RoleGrantedAt)
	require.Equal(t, admin.ID, *u.RoleGrantedBy)

	page, err := f.svc.ListUsers(ctx, ListParams{Role: "support"})
	require.NoError(t, err)
	require.Equal(t, []string{"a@b.com"}, emails(page.Users))
}

func TestCreateUser_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateUser(ctx, admin, CreateUserInput{Email: "  "})
	require.ErrorIs(t, err, ErrInvalid)
	require.Contains(t, err.Error(), "email is required")

	_, err = f.svc.CreateUser(ctx, admin, CreateUserInput{Email: "not-an-email"})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = f.svc.CreateUser(ctx, admin, CreateUserInput{Email: "x@y.com", Role: "owner"})
	require.ErrorIs(t, err, ErrInvalid)
	require.ErrorIs(t, err, models.ErrUnknownRole)

	f.create(t, "dup@y.com", "")
	_, err = f.svc.CreateUser(ctx, admin, CreateUserInput{Email: "DUP@y.com"})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestCreateUser_PlainUserStoresNoRole(t *testing.T) {
	f := newFixture(t)
	u := f.create(t, "plain@b.com", "user")
	require.Nil(t, u.Role)
	require.Equal(t, models.RoleUser, u.EffectiveRole())
	require.Empty(t, u.Permissions)
}

func TestListUsers_PaginationAndOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 16; i++ {
		f.create(t, string(rune('a'+i))+"@list.com", "")
	}

	first, err := f.svc.ListUsers(ctx, ListParams{Page: 1})
	require.NoError(t, err)
	require.Len(t, first.Users, 15)
	require.Equal(t, int64(16), first.Total)
	require.Equal(t, 2, first.TotalPages)
	require.Equal(t, "p@list.com", first.Users[0].EmailValue())

	second, err := f.svc.ListUsers(ctx, ListParams{Page: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"a@list.com"}, emails(second.Users))

	big, err := f.svc.ListUsers(ctx, ListParams{Limit: 1000})
	require.NoError(t, err)
	require.Equal(t, 100, big.Limit)
}

func TestListUsers_EmptyDirectoryHasOnePage(t *testing.T) {
	f := newFixture(t)
	page, err := f.svc.ListUsers(context.Background(), ListParams{})
	require.NoError(t, err)
	require.Empty(t, page.Users)
	require.Equal(t, 1, page.TotalPages)
}

func TestListUsers_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plain := f.create(t, "plain@x.com", "")
	mod := f.create(t, "mod@x.com", "moderator")
	_, err := f.svc.GrantSubscription(ctx, admin, mod.ID, GrantInput{Plan: "creator", DurationDays: 30})
	require.NoError(t, err)
	_, err = f.svc.GrantSubscription(ctx, admin, plain.ID, GrantInput{Plan: "free", DurationDays: 30})
	require.NoError(t, err)
	f.create(t, "nosub@x.com", "")
	_, err = f.repo.SetRole(ctx, f.create(t, "Jane@Other.org", "").ID, RoleUpdate{Role: rolePtr(models.RoleUser)})
	require.NoError(t, err)

	cases := []struct {
		name   string
		params ListParams
		want   []string
	}{
		{"role user includes unassigned", ListParams{Role: "user"}, []string{"jane@other.org", "nosub@x.com", "plain@x.com"}},
		{"role moderator", ListParams{Role: "MODERATOR"}, []string{"mod@x.com"}},
		{"free includes no plan", ListParams{Subscription: "free"}, []string{"jane@other.org", "nosub@x.com", "plain@x.com"}},
		{"none", ListParams{Subscription: "none"}, []string{"jane@other.org", "nosub@x.com"}},
		{"creator", ListParams{Subscription: "creator"}, []string{"mod@x.com"}},
		{"search is case insensitive", ListParams{Search: "OTHER"}, []string{"jane@other.org"}},
		{"all is no filter", ListParams{Role: "all", Subscription: "all", Search: "x.com"}, []string{"nosub@x.com", "mod@x.com", "plain@x.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := f.svc.ListUsers(ctx, tc.params)
			require.NoError(t, err)
			require.Equal(t, tc.want, emails(page.Users))
		})
	}

	_, err = f.svc.ListUsers(ctx, ListParams{Role: "owner"})
	require.ErrorIs(t, err, ErrInvalid)
	_, err = f.svc.ListUsers(ctx, ListParams{Subscription: "gold"})
	require.ErrorIs(t, err, ErrInvalid)
}

func rolePtr(r models.Role) *models.Role { return &r }

func TestAssignRole_FullOverwrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.create(t, "p@x.com", "")

	_, err := f.svc.AssignRole(ctx, admin, u.ID, "moderator", []string{"manage_content", "view_analytics", "manage_content"})
	require.NoError(t, err)
	_, err = f.svc.AssignRole(ctx, admin, u.ID, "moderator", []string{"view_analytics"})
	require.NoError(t, err)

	got, err := f.svc.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []models.Permission{models.PermViewAnalytics}, got.Permissions)
	require.Equal(t, f.now, *got.RoleGrantedAt)
	require.Equal(t, admin.ID, *got.RoleGrantedBy)
}

func TestAssignRole_RejectsUnknownPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.create(t, "p@x.com", "")

	_, err := f.svc.AssignRole(ctx, admin, u.ID, "support", []string{"handle_support", "launch_rockets"})
	require.ErrorIs(t, err, ErrInvalid)
	require.ErrorIs(t, err, models.ErrUnknownPermission)
	require.Contains(t, err.Error(), "launch_rockets")

	got, _ := f.svc.GetUser(ctx, u.ID)
	require.Nil(t, got.Role)

	_, err = f.svc.AssignRole(ctx, admin, u.ID, "", nil)
	require.ErrorIs(t, err, ErrInvalid)
	_, err = f.svc.AssignRole(ctx, admin, 9999, "support", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveRole_UpdatesStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "a@x.com", "")
	u := f.create(t, "s@x.com", "")
	_, err := f.svc.AssignRole(ctx, admin, u.ID, "support", []string{"manage_content", "view_analytics"})
	require.NoError(t, err)

	before, err := f.svc.RoleStats(ctx)
	require.NoError(t, err)
	require.Len(t, before.ByRole, len(models.Roles))

	_, err = f.svc.RemoveRole(ctx, admin, u.ID)
	require.NoError(t, err)

	after, err := f.svc.RoleStats(ctx)
	require.NoError(t, err)
	require.Equal(t, before.UsersWithoutRole+1, after.UsersWithoutRole)
	require.Equal(t, countOf(before, models.RoleSupport)-1, countOf(after, models.RoleSupport))
	require.Equal(t, int64(2), after.TotalUsers)

	got, _ := f.svc.GetUser(ctx, u.ID)
	require.Nil(t, got.Role)
	require.Empty(t, got.Permissions)
	require.Nil(t, got.RoleGrantedAt)
}

func TestAssignRole_UserRoleCountsAsUnassigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "plain@x.com", "user")
	u := f.create(t, "mod@x.com", "moderator")

	got, err := f.svc.AssignRole(ctx, admin, u.ID, "user", []string{"manage_content"})
	require.NoError(t, err)
	require.Nil(t, got.Role)
	require.Empty(t, got.Permissions)
	require.Nil(t, got.RoleGrantedAt)

	st, err := f.svc.RoleStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), st.UsersWithoutRole)
	require.Equal(t, int64(0), countOf(st, models.RoleUser))
	require.Equal(t, int64(0), countOf(st, models.RoleModerator))
}

func countOf(s *Stats, r models.Role) int64 {
	for _, rc := range s.ByRole {
		if rc.Role == r {
			return rc.Count
		}
	}
	return -1
}

func TestSelfLockoutGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := f.create(t, "me@x.com", "admin")
	self := Actor{ID: me.ID}

	_, err := f.svc.RemoveRole(ctx, self, me.ID)
	require.ErrorIs(t, err, ErrInvalid)
	_, err = f.svc.AssignRole(ctx, self, me.ID, "support", nil)
	require.ErrorIs(t, err, ErrInvalid)
	_, err = f.svc.DeleteUser(ctx, self, me.ID)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = f.svc.AssignRole(ctx, self, me.ID, "admin", []string{"manage_users"})
	require.NoError(t, err)
}

func TestGrantSubscription_ComputesEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.create(t, "g@x.com", "")

	got, err := f.svc.GrantSubscription(ctx, admin, u.ID, GrantInput{Plan: "professional", DurationDays: 30, Reason: "partner"})
	require.NoError(t, err)
	require.Equal(t, models.PlanProfessional, *got.SubscriptionPlan)
	require.Equal(t, models.StatusActive, *got.SubscriptionStatus)
	require.Equal(t, f.now.Add(30*24*time.Hour), *got.SubscriptionEnd)

	f.now = f.now.Add(48 * time.Hour)
	again, err := f.svc.GrantSubscription(ctx, admin, u.ID, GrantInput{Plan: "enterprise", Status: "trialing", DurationDays: 7})
	require.NoError(t, err)
	require.Equal(t, models.PlanEnterprise, *again.SubscriptionPlan)
	require.Equal(t, models.StatusTrialing, *again.SubscriptionStatus)
	require.Equal(t, f.now.Add(7*24*time.Hour), *again.SubscriptionEnd)

	entries, err := f.audit.List(ctx, audit.Filter{TargetUserID: u.ID})
	require.NoError(t, err)
	granted := 0
	for _, e := range entries {
		if e.Action == audit.ActionSubscriptionGranted {
			granted++
			require.Equal(t, admin.ID, e.ActorID)
		}
	}
	require.Equal(t, 2, granted)
	require.Equal(t, "partner", entries[len(entries)-2].Details["reason"])
}

func TestGrantSubscription_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.create(t, "g@x.com", "")
	bad := []GrantInput{
		{Plan: "", DurationDays: 30},
		{Plan: "platinum", DurationDays: 30},
		{Plan: "creator", DurationDays: 0},
		{Plan: "creator", DurationDays: 3651},
		{Plan: "creator", Status: "cancelled", DurationDays: 30},
		{Plan: "creator", Status: "paused", DurationDays: 30},
	}
	for _, in := range bad {
		_, err := f.svc.GrantSubscription(ctx, admin, u.ID, in)
		require.ErrorIs(t, err, ErrInvalid, "%+v", in)
	}
	_, err := f.svc.GrantSubscription(ctx, admin, 424242, GrantInput{Plan: "creator", DurationDays: 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelSubscription_KeepsPlanAndEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.create(t, "c@x.com", "")

	_, err := f.svc.CancelSubscription(ctx, admin, u.ID)
	require.ErrorIs(t, err, ErrInvalid)

	granted, err := f.svc.GrantSubscription(ctx, admin, u.ID, GrantInput{Plan: "creator", DurationDays: 10})
	require.NoError(t, err)
	got, err := f.svc.CancelSubscription(ctx, admin, u.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, *got.SubscriptionStatus)
	require.Equal(t, models.PlanCreator, *got.SubscriptionPlan)
	require.Equal(t, *granted.SubscriptionEnd, *got.SubscriptionEnd)
}

func TestDeleteUser_ReportsCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.create(t, "d@x.com", "moderator")
	_, err := f.svc.GrantSubscription(ctx, admin, u.ID, GrantInput{Plan: "creator", DurationDays: 5})
	require.NoError(t, err)

	res, err := f.svc.DeleteUser(ctx, admin, u.ID)
	require.NoError(t, err)
	require.Equal(t, &DeleteResult{UserID: u.ID, Email: "d@x.com", RoleCleared: true, SubscriptionCleared: true, SessionsRevoked: 2}, res)
	require.Equal(t, []int64{u.ID}, f.revoke.ids)

	page, err := f.svc.ListUsers(ctx, ListParams{})
	require.NoError(t, err)
	require.NotContains(t, emails(page.Users), "d@x.com")

	_, err = f.svc.DeleteUser(ctx, admin, u.ID)
	require.ErrorIs(t, err, ErrNotFound)

	last := f.pub.events[len(f.pub.events)-1]
	require.Equal(t, events.UserDeleted, last.Type)
	require.Equal(t, u.ID, last.UserID)
}

func TestDeleteUser_PlainUserClearsNothing(t *testing.T) {
	f := newFixture(t)
	u := f.create(t, "p@x.com", "")
	res, err := f.svc.DeleteUser(context.Background(), admin, u.ID)
	require.NoError(t, err)
	require.False(t, res.RoleCleared)
	require.False(t, res.SubscriptionCleared)
}

func TestLinkFromClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, "artist@x.com", "")

	linked, err := f.svc.LinkFromClaims(ctx, map[string]interface{}{"sub": "kc-1", "email": "Artist@X.com"})
	require.NoError(t, err)
	require.Equal(t, created.ID, linked.ID)
	require.Equal(t, "kc-1", linked.Sub)

	again, err := f.svc.LinkFromClaims(ctx, map[string]interface{}{"sub": "kc-1"})
	require.NoError(t, err)
	require.Equal(t, created.ID, again.ID)

	fresh, err := f.svc.LinkFromClaims(ctx, map[string]interface{}{"sub": "kc-2", "email": "new@x.com", "given_name": "New"})
	require.NoError(t, err)
	require.NotEqual(t, created.ID, fresh.ID)
	require.Equal(t, "New", *fresh.FirstName)

	_, err = f.svc.LinkFromClaims(ctx, map[string]interface{}{"email": "x@x.com"})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLinkFromClaims_BootstrapAdmin(t *testing.T) {
	f := newFixture(t, WithBootstrapAdmin("Boss@X.com"))
	ctx := context.Background()

	boss, err := f.svc.LinkFromClaims(ctx, map[string]interface{}{"sub": "kc-boss", "email": "boss@x.com"})
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, boss.EffectiveRole())
	require.True(t, boss.HasPermission(models.PermManageRoles))

	// once an admin exists nobody else is promoted
	_, err = f.svc.RemoveRole(ctx, admin, boss.ID)
	require.NoError(t, err)
	_, err = f.svc.AssignRole(ctx, admin, f.create(t, "other@x.com", "").ID, "admin", nil)
	require.NoError(t, err)
	again, err := f.svc.LinkFromClaims(ctx, map[string]interface{}{"sub": "kc-boss"})
	require.NoError(t, err)
	require.Equal(t, models.RoleUser, again.EffectiveRole())
}

type failingRepo struct {
	*MemoryRepository
}

var errStore = errors.New("store down")

func (failingRepo) SetRole(ctx context.Context, id int64, upd RoleUpdate) (*models.User, error) {
	return nil, errStore
}

func TestAssignRole_StoreFailureLeavesRecord(t *testing.T) {
	mem := NewMemoryRepository()
	svc := NewService(failingRepo{mem})
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, admin, CreateUserInput{Email: "k@x.com", Role: "support"})
	require.NoError(t, err)

	_, err = svc.AssignRole(ctx, admin, u.ID, "moderator", nil)
	require.ErrorIs(t, err, errStore)

	got, err := svc.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoleSupport, got.EffectiveRole())
}

func TestTotalPages(t *testing.T) {
	require.Equal(t, 1, TotalPages(0, 15))
	require.Equal(t, 1, TotalPages(15, 15))
	require.Equal(t, 2, TotalPages(16, 15))
	require.Equal(t, 7, TotalPages(100, 15))
}
