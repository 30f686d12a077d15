// Package adminclient is a typed HTTP client for the admin API. Requests carry
// the session cookie set by /api/auth/login; failures are never retried.
package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/artisthub/platform/backend/admin-service/internal/audit"
	"github.com/artisthub/platform/backend/admin-service/internal/models"
	"github.com/artisthub/platform/backend/admin-service/internal/users"
)

// APIError is a non-success response. Message is the server's error text.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin api: %d %s", e.Status, e.Message)
}

// Client talks to one admin service.
type Client struct {
	baseURL     string
	http        *http.Client
	accessToken string
}

type Option func(*Client)

// WithHTTPClient replaces the default client. A cookie jar is added when the
// client has none.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithAccessToken sends a bearer token instead of relying on the session cookie.
func WithAccessToken(tok string) Option { return func(c *Client) { c.accessToken = tok } }

func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.http.Jar = jar
	}
	return c, nil
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}

	var env envelope
	if jerr := json.Unmarshal(raw, &env); jerr != nil || resp.StatusCode >= 400 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Login opens a cookie session with the password grant.
func (c *Client) Login(ctx context.Context, username, password string) (*models.User, error) {
	var out struct {
		AccessToken string       `json:"accessToken"`
		User        *models.User `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"mode":     "password",
		"username": username,
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// ListParams mirrors the directory query string. Zero values are omitted.
type ListParams struct {
	Page         int
	Limit        int
	Search       string
	Role         string
	Subscription string
}

func (p ListParams) encode() string {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	if p.Role != "" {
		v.Set("role", p.Role)
	}
	if p.Subscription != "" {
		v.Set("subscription", p.Subscription)
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

type UserPage struct {
	Users      []*models.User `json:"users"`
	Pagination Pagination     `json:"pagination"`
}

func (c *Client) ListUsers(ctx context.Context, p ListParams) (*UserPage, error) {
	var out UserPage
	if err := c.do(ctx, http.MethodGet, "/api/admin/users"+p.encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type userResponse struct {
	Message string       `json:"message"`
	User    *models.User `json:"user"`
}

func userPath(id int64) string {
	return "/api/admin/users/" + strconv.FormatInt(id, 10)
}

func (c *Client) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var out userResponse
	if err := c.do(ctx, http.MethodGet, userPath(id), nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

type CreateUserRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Role      string `json:"role,omitempty"`
}

func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	var out userResponse
	if err := c.do(ctx, http.MethodPost, "/api/admin/users", req, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// DeleteUser hard-deletes the account and reports what went with it.
func (c *Client) DeleteUser(ctx context.Context, id int64) (*users.DeleteResult, error) {
	var out struct {
		Deleted *users.DeleteResult `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodDelete, userPath(id), nil, &out); err != nil {
		return nil, err
	}
	return out.Deleted, nil
}

// AssignRole replaces the user's role and entire permission set.
func (c *Client) AssignRole(ctx context.Context, id int64, role string, permissions []string) (*models.User, error) {
	if permissions == nil {
		permissions = []string{}
	}
	var out userResponse
	body := map[string]interface{}{"role": role, "permissions": permissions}
	if err := c.do(ctx, http.MethodPost, userPath(id)+"/role", body, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) RemoveRole(ctx context.Context, id int64) (*models.User, error) {
	var out userResponse
	if err := c.do(ctx, http.MethodDelete, userPath(id)+"/role", nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

type GrantRequest struct {
	Plan         string `json:"plan"`
	Status       string `json:"status,omitempty"`
	DurationDays int    `json:"durationDays"`
	Reason       string `json:"reason,omitempty"`
}

type GrantResult struct {
	SubscriptionEnd *time.Time   `json:"subscriptionEnd"`
	User            *models.User `json:"user"`
}

func (c *Client) GrantSubscription(ctx context.Context, id int64, req GrantRequest) (*GrantResult, error) {
	var out GrantResult
	if err := c.do(ctx, http.MethodPost, userPath(id)+"/subscription", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelSubscription(ctx context.Context, id int64) (*models.User, error) {
	var out userResponse
	if err := c.do(ctx, http.MethodDelete, userPath(id)+"/subscription", nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

type RolesInfo struct {
	Stats                users.Stats         `json:"stats"`
	AvailableRoles       []models.Role       `json:"availableRoles"`
	AvailablePermissions []models.Permission `json:"availablePermissions"`
}

func (c *Client) Roles(ctx context.Context) (*RolesInfo, error) {
	var out RolesInfo
	if err := c.do(ctx, http.MethodGet, "/api/admin/roles", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type PlanInfo struct {
	Plan        models.Plan `json:"plan"`
	DisplayName string      `json:"displayName"`
}

func (c *Client) Plans(ctx context.Context) ([]PlanInfo, error) {
	var out struct {
		Plans []PlanInfo `json:"plans"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/admin/plans", nil, &out); err != nil {
		return nil, err
	}
	return out.Plans, nil
}

// Audit lists recent admin actions; userID 0 means all users.
func (c *Client) Audit(ctx context.Context, userID int64, limit int) ([]*audit.Entry, error) {
	v := url.Values{}
	if userID > 0 {
		v.Set("userId", strconv.FormatInt(userID, 10))
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/admin/audit"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out struct {
		Entries []*audit.Entry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// ArchiveAudit uploads entries newer than since (zero for all).
func (c *Client) ArchiveAudit(ctx context.Context, since time.Time) (*audit.ArchiveResult, error) {
	path := "/api/admin/audit/archive"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}
	var out struct {
		Archive *audit.ArchiveResult `json:"archive"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Archive, nil
}
