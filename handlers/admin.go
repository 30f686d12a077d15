package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/artisthub/platform/backend/admin-service/internal/audit"
	"github.com/artisthub/platform/backend/admin-service/internal/models"
	"github.com/artisthub/platform/backend/admin-service/internal/users"
	"github.com/artisthub/platform/backend/admin-service/pkg/middleware"
)

// AdminHandler serves the user, role and subscription management API.
type AdminHandler struct {
	users    *users.Service
	audit    *audit.Service
	archiver *audit.Archiver
}

// NewAdminHandler wires the handler. archiver may be nil when no object store is configured.
func NewAdminHandler(u *users.Service, a *audit.Service, archiver *audit.Archiver) *AdminHandler {
	return &AdminHandler{users: u, audit: a, archiver: archiver}
}

// Register mounts the routes on rg, which must already be authenticated and
// restricted to admins.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/users", h.ListUsers)
	rg.POST("/users", h.CreateUser)
	rg.GET("/users/:id", h.GetUser)
	rg.DELETE("/users/:id", h.DeleteUser)
	rg.POST("/users/:id/role", h.AssignRole)
	rg.DELETE("/users/:id/role", h.RemoveRole)
	rg.POST("/users/:id/subscription", h.GrantSubscription)
	rg.DELETE("/users/:id/subscription", h.CancelSubscription)
	rg.GET("/roles", h.Roles)
	rg.GET("/plans", h.Plans)
	rg.GET("/audit", h.ListAudit)
	rg.POST("/audit/archive", h.ArchiveAudit)
}

func actorFrom(c *gin.Context) users.Actor {
	u := middleware.CurrentUser(c)
	if u == nil {
		return users.Actor{}
	}
	return users.Actor{ID: u.ID, Email: u.EmailValue()}
}

func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}

// ListUsers handles GET /users?page&limit&search&role&subscription.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, err := h.users.ListUsers(c.Request.Context(), users.ListParams{
		Page:         queryInt(c, "page"),
		Limit:        queryInt(c, "limit"),
		Search:       c.Query("search"),
		Role:         c.Query("role"),
		Subscription: c.Query("subscription"),
	})
	if err != nil {
		writeServiceError(c, "list_users", err)
		return
	}
	recordOp("list_users", "ok")
	respond(c, http.StatusOK, gin.H{
		"users": page.Users,
		"pagination": gin.H{
			"page":       page.Page,
			"limit":      page.Limit,
			"total":      page.Total,
			"totalPages": page.TotalPages,
		},
	})
}

func (h *AdminHandler) GetUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	u, err := h.users.GetUser(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, "get_user", err)
		return
	}
	respond(c, http.StatusOK, gin.H{"user": u})
}

type createUserRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := h.users.CreateUser(c.Request.Context(), actorFrom(c), users.CreateUserInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		writeServiceError(c, "create_user", err)
		return
	}
	recordOp("create_user", "ok")
	respond(c, http.StatusCreated, gin.H{"message": "User created", "user": u})
}

func (h *AdminHandler) DeleteUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	res, err := h.users.DeleteUser(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeServiceError(c, "delete_user", err)
		return
	}
	recordOp("delete_user", "ok")
	respond(c, http.StatusOK, gin.H{"message": "User deleted", "deleted": res})
}

type assignRoleRequest struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func (h *AdminHandler) AssignRole(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := h.users.AssignRole(c.Request.Context(), actorFrom(c), id, req.Role, req.Permissions)
	if err != nil {
		writeServiceError(c, "assign_role", err)
		return
	}
	recordOp("assign_role", "ok")
	respond(c, http.StatusOK, gin.H{"message": "Role assigned", "user": u})
}

func (h *AdminHandler) RemoveRole(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	u, err := h.users.RemoveRole(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeServiceError(c, "remove_role", err)
		return
	}
	recordOp("remove_role", "ok")
	respond(c, http.StatusOK, gin.H{"message": "Role removed", "user": u})
}

type grantRequest struct {
	Plan         string `json:"plan"`
	Status       string `json:"status"`
	DurationDays int    `json:"durationDays"`
	Reason       string `json:"reason"`
}

func (h *AdminHandler) GrantSubscription(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := h.users.GrantSubscription(c.Request.Context(), actorFrom(c), id, users.GrantInput{
		Plan:         req.Plan,
		Status:       req.Status,
		DurationDays: req.DurationDays,
		Reason:       req.Reason,
	})
	if err != nil {
		writeServiceError(c, "grant_subscription", err)
		return
	}
	recordOp("grant_subscription", "ok")
	respond(c, http.StatusOK, gin.H{
		"message":         "Subscription granted",
		"subscriptionEnd": u.SubscriptionEnd,
		"user":            u,
	})
}

func (h *AdminHandler) CancelSubscription(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	u, err := h.users.CancelSubscription(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeServiceError(c, "cancel_subscription", err)
		return
	}
	recordOp("cancel_subscription", "ok")
	respond(c, http.StatusOK, gin.H{"message": "Subscription cancelled", "user": u})
}

// Roles returns role statistics and the closed role/permission sets.
func (h *AdminHandler) Roles(c *gin.Context) {
	stats, err := h.users.RoleStats(c.Request.Context())
	if err != nil {
		writeServiceError(c, "role_stats", err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"stats":                stats,
		"availableRoles":       models.Roles,
		"availablePermissions": models.Permissions,
	})
}

func (h *AdminHandler) Plans(c *gin.Context) {
	plans := make([]gin.H, 0, len(models.Plans))
	for _, p := range models.Plans {
		plans = append(plans, gin.H{"plan": p, "displayName": p.DisplayName()})
	}
	respond(c, http.StatusOK, gin.H{"plans": plans})
}

// ListAudit handles GET /audit?userId&limit.
func (h *AdminHandler) ListAudit(c *gin.Context) {
	var target int64
	if raw := c.Query("userId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid userId")
			return
		}
		target = id
	}
	entries, err := h.audit.List(c.Request.Context(), audit.Filter{TargetUserID: target, Limit: queryInt(c, "limit")})
	if err != nil {
		writeServiceError(c, "list_audit", err)
		return
	}
	respond(c, http.StatusOK, gin.H{"entries": entries})
}

// ArchiveAudit handles POST /audit/archive?since=RFC3339.
func (h *AdminHandler) ArchiveAudit(c *gin.Context) {
	if h.archiver == nil {
		fail(c, http.StatusServiceUnavailable, "audit archive storage not configured")
		return
	}
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}
	res, err := h.archiver.Archive(c.Request.Context(), since)
	if err != nil {
		writeServiceError(c, "archive_audit", err)
		return
	}
	recordOp("archive_audit", "ok")
	respond(c, http.StatusOK, gin.H{"archive": res})
}
