package users

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/artisthub/platform/backend/admin-service/internal/models"
)

func TestBuildListQuery(t *testing.T) {
	list, count, args := buildListQuery(Query{Page: 2, Limit: 15})
	require.Equal(t, "SELECT COUNT(*) FROM users", count)
	require.Contains(t, list, "ORDER BY id DESC LIMIT $1 OFFSET $2")
	require.Empty(t, args)

	list, count, args = buildListQuery(Query{Limit: 15, Role: models.RoleUser, Subscription: "free", Search: "50%_off"})
	require.Equal(t,
		`SELECT COUNT(*) FROM users WHERE (role IS NULL OR role = $1) AND (subscription_plan IS NULL OR subscription_plan = $2) AND (email ILIKE $3 OR first_name ILIKE $3 OR last_name ILIKE $3)`,
		count)
	require.Contains(t, list, "LIMIT $4 OFFSET $5")
	require.Equal(t, []any{"user", "free", `%50\%\_off%`}, args)

	_, count, args = buildListQuery(Query{Role: models.RoleAdmin, Subscription: SubscriptionNone})
	require.Equal(t, "SELECT COUNT(*) FROM users WHERE role = $1 AND subscription_plan IS NULL", count)
	require.Equal(t, []any{"admin"}, args)
}

func setupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("Failed to connect to test database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("Failed to ping test database: %v", err)
	}
	repo := NewPostgresRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	_, err = pool.Exec(ctx, "TRUNCATE users RESTART IDENTITY")
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresRepository_RoundTrip(t *testing.T) {
	repo := NewPostgresRepository(setupTestPool(t))
	svc := NewService(repo)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, admin, CreateUserInput{Email: "pg@x.com", Role: "support"})
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, admin, CreateUserInput{Email: "pg@x.com"})
	require.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.AssignRole(ctx, admin, u.ID, "support", []string{"handle_support"})
	require.NoError(t, err)
	_, err = svc.GrantSubscription(ctx, admin, u.ID, GrantInput{Plan: "creator", DurationDays: 30})
	require.NoError(t, err)

	page, err := svc.ListUsers(ctx, ListParams{Role: "support", Subscription: "creator"})
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	require.Equal(t, []models.Permission{models.PermHandleSupport}, page.Users[0].Permissions)

	res, err := svc.DeleteUser(ctx, admin, u.ID)
	require.NoError(t, err)
	require.True(t, res.RoleCleared)
	_, err = svc.GetUser(ctx, u.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
