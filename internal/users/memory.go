package users

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/artisthub/platform/backend/admin-service/internal/models"
)

// MemoryRepository keeps users in a map. Used in tests and when no database is configured.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]*models.User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: map[int64]*models.User{}}
}

func (r *MemoryRepository) List(ctx context.Context, q Query) ([]*models.User, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		if matches(u, q) {
			matched = append(matched, u)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := int64(len(matched))
	start := q.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	out := make([]*models.User, 0, end-start)
	for _, u := range matched[start:end] {
		out = append(out, u.Clone())
	}
	return out, total, nil
}

func matches(u *models.User, q Query) bool {
	if q.Role != "" {
		if q.Role == models.RoleUser {
			if u.Role != nil && *u.Role != models.RoleUser {
				return false
			}
		} else if u.Role == nil || *u.Role != q.Role {
			return false
		}
	}
	switch q.Subscription {
	case "":
	case SubscriptionNone:
		if u.SubscriptionPlan != nil {
			return false
		}
	case string(models.PlanFree):
		if u.SubscriptionPlan != nil && *u.SubscriptionPlan != models.PlanFree {
			return false
		}
	default:
		if u.SubscriptionPlan == nil || string(*u.SubscriptionPlan) != q.Subscription {
			return false
		}
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		found := false
		for _, f := range []*string{u.Email, u.FirstName, u.LastName} {
			if f != nil && strings.Contains(strings.ToLower(*f), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (r *MemoryRepository) Get(ctx context.Context, id int64) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (r *MemoryRepository) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	if sub == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Sub == sub {
			return u.Clone(), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byEmailLocked(email), nil
}

func (r *MemoryRepository) byEmailLocked(email string) *models.User {
	for _, u := range r.users {
		if u.EmailValue() == email {
			return u.Clone()
		}
	}
	return nil
}

func (r *MemoryRepository) Create(ctx context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := u.EmailValue(); e != "" && r.byEmailLocked(e) != nil {
		return nil, ErrEmailTaken
	}
	r.nextID++
	stored := u.Clone()
	stored.ID = r.nextID
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.Permissions == nil {
		stored.Permissions = []models.Permission{}
	}
	r.users[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *MemoryRepository) update(id int64, fn func(u *models.User)) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return u.Clone(), nil
}

func (r *MemoryRepository) SetRole(ctx context.Context, id int64, upd RoleUpdate) (*models.User, error) {
	return r.update(id, func(u *models.User) {
		if upd.Role == nil {
			u.Role = nil
			u.Permissions = []models.Permission{}
			u.RoleGrantedAt = nil
			u.RoleGrantedBy = nil
			return
		}
		role := *upd.Role
		u.Role = &role
		u.Permissions = append([]models.Permission{}, upd.Permissions...)
		u.RoleGrantedAt = upd.GrantedAt
		u.RoleGrantedBy = upd.GrantedBy
	})
}

func (r *MemoryRepository) UpdateSubscription(ctx context.Context, id int64, upd SubscriptionUpdate) (*models.User, error) {
	return r.update(id, func(u *models.User) {
		if upd.Plan != nil {
			p := *upd.Plan
			u.SubscriptionPlan = &p
		}
		if upd.Status != nil {
			s := *upd.Status
			u.SubscriptionStatus = &s
		}
		if upd.End != nil {
			e := *upd.End
			u.SubscriptionEnd = &e
		}
	})
}

func (r *MemoryRepository) LinkSub(ctx context.Context, id int64, sub string) (*models.User, error) {
	return r.update(id, func(u *models.User) { u.Sub = sub })
}

func (r *MemoryRepository) Delete(ctx context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.users, id)
	return u, nil
}

func (r *MemoryRepository) CountByRole(ctx context.Context) (RoleCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc := RoleCounts{ByRole: map[models.Role]int64{}}
	for _, u := range r.users {
		rc.Total++
		if u.Role == nil {
			rc.WithoutRole++
			continue
		}
		rc.ByRole[*u.Role]++
	}
	return rc, nil
}
