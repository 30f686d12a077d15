package models

import (
	"strings"
	"time"
)

// User is an account managed through the admin panel. Role and subscription
// fields are owned by the admin API; Sub is filled in when the external auth
// provider first links the account.
type User struct {
	ID                 int64               `bson:"_id" json:"id"`
	Email              *string             `bson:"email,omitempty" json:"email"`
	FirstName          *string             `bson:"firstName,omitempty" json:"firstName"`
	LastName           *string             `bson:"lastName,omitempty" json:"lastName"`
	Sub                string              `bson:"sub,omitempty" json:"-"`
	Role               *Role               `bson:"role,omitempty" json:"role"`
	Permissions        []Permission        `bson:"permissions" json:"permissions"`
	RoleGrantedAt      *time.Time          `bson:"roleGrantedAt,omitempty" json:"roleGrantedAt"`
	RoleGrantedBy      *int64              `bson:"roleGrantedBy,omitempty" json:"roleGrantedBy,omitempty"`
	SubscriptionPlan   *Plan               `bson:"subscriptionPlan,omitempty" json:"subscriptionPlan"`
	SubscriptionStatus *SubscriptionStatus `bson:"subscriptionStatus,omitempty" json:"subscriptionStatus"`
	SubscriptionEnd    *time.Time          `bson:"subscriptionEnd,omitempty" json:"subscriptionEnd"`
	CreatedAt          time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// EffectiveRole returns the role used for display and access checks.
// Users without an assigned role are plain users.
func (u *User) EffectiveRole() Role {
	if u == nil || u.Role == nil {
		return RoleUser
	}
	return *u.Role
}

// EmailValue returns the email or "" when unset.
func (u *User) EmailValue() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}

// HasPermission reports whether p is in the user's permission set.
func (u *User) HasPermission(p Permission) bool {
	for _, have := range u.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can't mutate stored records.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Email = cloneString(u.Email)
	c.FirstName = cloneString(u.FirstName)
	c.LastName = cloneString(u.LastName)
	if u.Role != nil {
		r := *u.Role
		c.Role = &r
	}
	c.Permissions = append([]Permission{}, u.Permissions...)
	c.RoleGrantedAt = cloneTime(u.RoleGrantedAt)
	if u.RoleGrantedBy != nil {
		v := *u.RoleGrantedBy
		c.RoleGrantedBy = &v
	}
	if u.SubscriptionPlan != nil {
		p := *u.SubscriptionPlan
		c.SubscriptionPlan = &p
	}
	if u.SubscriptionStatus != nil {
		s := *u.SubscriptionStatus
		c.SubscriptionStatus = &s
	}
	c.SubscriptionEnd = cloneTime(u.SubscriptionEnd)
	return &c
}

// NormalizeEmail trims and lowercases an address for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// StringPtr returns nil for blank strings, otherwise a pointer to the trimmed value.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
