package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownRole       = errors.New("unknown role")
	ErrUnknownPlan       = errors.New("unknown plan")
	ErrUnknownStatus     = errors.New("unknown subscription status")
	ErrUnknownPermission = errors.New("unknown permission")
)

// Role is the coarse admin capability tier.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleSupport   Role = "support"
	RoleAdmin     Role = "admin"
)

// Roles lists every assignable role in display order.
var Roles = []Role{RoleUser, RoleModerator, RoleSupport, RoleAdmin}

// ParseRole validates a role name (case-insensitive).
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Plan is a subscription product tier.
type Plan string

const (
	PlanFree         Plan = "free"
	PlanCreator      Plan = "creator"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

var Plans = []Plan{PlanFree, PlanCreator, PlanProfessional, PlanEnterprise}

var planDisplayNames = map[Plan]string{
	PlanFree:         "Discover",
	PlanCreator:      "Elevate",
	PlanProfessional: "Amplify",
	PlanEnterprise:   "Dominate",
}

// DisplayName is the marketing name of the tier.
func (p Plan) DisplayName() string {
	if n, ok := planDisplayNames[p]; ok {
		return n
	}
	return string(p)
}

func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := planDisplayNames[p]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlan, s)
}

// SubscriptionStatus of a user's current plan.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusTrialing  SubscriptionStatus = "trialing"
	StatusCancelled SubscriptionStatus = "cancelled"
)

func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch st := SubscriptionStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusTrialing, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Permission is a fine-grained capability token. The set is closed: tokens
// outside Permissions are rejected at the API boundary.
type Permission string

const (
	PermManageUsers         Permission = "manage_users"
	PermManageRoles         Permission = "manage_roles"
	PermManageSubscriptions Permission = "manage_subscriptions"
	PermManageContent       Permission = "manage_content"
	PermViewAnalytics       Permission = "view_analytics"
	PermManagePayouts       Permission = "manage_payouts"
	PermManageMerch         Permission = "manage_merch"
	PermViewAPIUsage        Permission = "view_api_usage"
	PermHandleSupport       Permission = "handle_support"
)

var Permissions = []Permission{
	PermManageUsers,
	PermManageRoles,
	PermManageSubscriptions,
	PermManageContent,
	PermViewAnalytics,
	PermManagePayouts,
	PermManageMerch,
	PermViewAPIUsage,
	PermHandleSupport,
}

func isKnownPermission(p Permission) bool {
	for _, known := range Permissions {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePermissions validates raw tokens, dropping duplicates and returning them
// sorted. The first unknown token fails the whole set.
func ParsePermissions(raw []string) ([]Permission, error) {
	seen := make(map[Permission]struct{}, len(raw))
	out := make([]Permission, 0, len(raw))
	for _, s := range raw {
		p := Permission(strings.TrimSpace(s))
		if !isKnownPermission(p) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPermission, s)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
