package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artisthub/platform/backend/admin-service/internal/models"
)

const pgUniqueViolation = "23505"

const userColumns = `id, email, first_name, last_name, COALESCE(sub, ''), role, permissions,
	role_granted_at, role_granted_by, subscription_plan, subscription_status, subscription_end,
	created_at, updated_at`

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	email TEXT UNIQUE,
	first_name TEXT,
	last_name TEXT,
	sub TEXT UNIQUE,
	role TEXT,
	permissions TEXT[] NOT NULL DEFAULT '{}',
	role_granted_at TIMESTAMPTZ,
	role_granted_by BIGINT,
	subscription_plan TEXT,
	subscription_status TEXT,
	subscription_end TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS users_role_idx ON users (role);
CREATE INDEX IF NOT EXISTS users_plan_idx ON users (subscription_plan);
`

// PostgresRepository implements Repository on a pgx pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Migrate creates the users table if it doesn't exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, usersSchema); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	return nil
}

// buildListQuery returns the page query, the count query and their shared
// arguments. The page query takes two extra trailing arguments, limit and offset.
func buildListQuery(q Query) (string, string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.Role != "" {
		if q.Role == models.RoleUser {
			where = append(where, "(role IS NULL OR role = "+arg(string(q.Role))+")")
		} else {
			where = append(where, "role = "+arg(string(q.Role)))
		}
	}
	switch q.Subscription {
	case "":
	case SubscriptionNone:
		where = append(where, "subscription_plan IS NULL")
	case string(models.PlanFree):
		where = append(where, "(subscription_plan IS NULL OR subscription_plan = "+arg(q.Subscription)+")")
	default:
		where = append(where, "subscription_plan = "+arg(q.Subscription))
	}
	if q.Search != "" {
		p := arg("%" + escapeLike(q.Search) + "%")
		where = append(where, fmt.Sprintf("(email ILIKE %s OR first_name ILIKE %s OR last_name ILIKE %s)", p, p, p))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	n := len(args)
	list := fmt.Sprintf("SELECT %s FROM users%s ORDER BY id DESC LIMIT $%d OFFSET $%d", userColumns, clause, n+1, n+2)
	count := "SELECT COUNT(*) FROM users" + clause
	return list, count, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func scanUser(row pgx.Row) (*models.User, error) {
	var (
		u                  models.User
		role, plan, status *string
		perms              []string
	)
	if err := row.Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Sub, &role, &perms,
		&u.RoleGrantedAt, &u.RoleGrantedBy, &plan, &status, &u.SubscriptionEnd,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if role != nil {
		r := models.Role(*role)
		u.Role = &r
	}
	if plan != nil {
		p := models.Plan(*plan)
		u.SubscriptionPlan = &p
	}
	if status != nil {
		s := models.SubscriptionStatus(*status)
		u.SubscriptionStatus = &s
	}
	u.Permissions = make([]models.Permission, 0, len(perms))
	for _, p := range perms {
		u.Permissions = append(u.Permissions, models.Permission(p))
	}
	return &u, nil
}

func permStrings(perms []models.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p))
	}
	return out
}

func (r *PostgresRepository) List(ctx context.Context, q Query) ([]*models.User, int64, error) {
	list, count, args := buildListQuery(q)
	var total int64
	if err := r.pool.QueryRow(ctx, count, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}
	limit := any(nil)
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := r.pool.Query(ctx, list, append(args, limit, q.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()
	out := []*models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating users: %w", err)
	}
	return out, total, nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, sql string, args ...any) (*models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (*models.User, error) {
	return r.queryOne(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
}

func (r *PostgresRepository) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	if sub == "" {
		return nil, nil
	}
	u, err := r.queryOne(ctx, "SELECT "+userColumns+" FROM users WHERE sub = $1", sub)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return u, err
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	u, err := r.queryOne(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return u, err
}

func (r *PostgresRepository) Create(ctx context.Context, u *models.User) (*models.User, error) {
	now := time.Now().UTC()
	created := u.CreatedAt
	if created.IsZero() {
		created = now
	}
	var role, plan, status *string
	if u.Role != nil {
		s := string(*u.Role)
		role = &s
	}
	if u.SubscriptionPlan != nil {
		s := string(*u.SubscriptionPlan)
		plan = &s
	}
	if u.SubscriptionStatus != nil {
		s := string(*u.SubscriptionStatus)
		status = &s
	}
	query := `
		INSERT INTO users (email, first_name, last_name, sub, role, permissions, role_granted_at,
			role_granted_by, subscription_plan, subscription_status, subscription_end, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + userColumns
	stored, err := scanUser(r.pool.QueryRow(ctx, query,
		u.Email, u.FirstName, u.LastName, u.Sub, role, permStrings(u.Permissions), u.RoleGrantedAt,
		u.RoleGrantedBy, plan, status, u.SubscriptionEnd, created, now,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return stored, nil
}

func (r *PostgresRepository) SetRole(ctx context.Context, id int64, upd RoleUpdate) (*models.User, error) {
	var role *string
	if upd.Role != nil {
		s := string(*upd.Role)
		role = &s
	}
	perms := permStrings(upd.Permissions)
	if upd.Role == nil {
		perms = []string{}
	}
	return r.queryOne(ctx, `
		UPDATE users SET role = $2, permissions = $3, role_granted_at = $4, role_granted_by = $5, updated_at = now()
		WHERE id = $1 RETURNING `+userColumns,
		id, role, perms, upd.GrantedAt, upd.GrantedBy)
}

func (r *PostgresRepository) UpdateSubscription(ctx context.Context, id int64, upd SubscriptionUpdate) (*models.User, error) {
	var plan, status *string
	if upd.Plan != nil {
		s := string(*upd.Plan)
		plan = &s
	}
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}
	return r.queryOne(ctx, `
		UPDATE users SET
			subscription_plan = COALESCE($2, subscription_plan),
			subscription_status = COALESCE($3, subscription_status),
			subscription_end = COALESCE($4, subscription_end),
			updated_at = now()
		WHERE id = $1 RETURNING `+userColumns,
		id, plan, status, upd.End)
}

func (r *PostgresRepository) LinkSub(ctx context.Context, id int64, sub string) (*models.User, error) {
	return r.queryOne(ctx, `UPDATE users SET sub = NULLIF($2, ''), updated_at = now() WHERE id = $1 RETURNING `+userColumns, id, sub)
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) (*models.User, error) {
	return r.queryOne(ctx, "DELETE FROM users WHERE id = $1 RETURNING "+userColumns, id)
}

func (r *PostgresRepository) CountByRole(ctx context.Context) (RoleCounts, error) {
	rows, err := r.pool.Query(ctx, "SELECT role, COUNT(*) FROM users GROUP BY role")
	if err != nil {
		return RoleCounts{}, fmt.Errorf("failed to count roles: %w", err)
	}
	defer rows.Close()
	rc := RoleCounts{ByRole: map[models.Role]int64{}}
	for rows.Next() {
		var role *string
		var n int64
		if err := rows.Scan(&role, &n); err != nil {
			return RoleCounts{}, err
		}
		rc.Total += n
		if role == nil {
			rc.WithoutRole += n
			continue
		}
		rc.ByRole[models.Role(*role)] += n
	}
	return rc, rows.Err()
}
