package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/artisthub/platform/backend/admin-service/internal/config"
	"github.com/artisthub/platform/backend/admin-service/internal/oidc"
	"github.com/artisthub/platform/backend/admin-service/internal/sessions"
	"github.com/artisthub/platform/backend/admin-service/internal/tokens"
	"github.com/artisthub/platform/backend/admin-service/internal/users"
	"github.com/artisthub/platform/backend/admin-service/pkg/logger"
	"github.com/artisthub/platform/backend/admin-service/pkg/middleware"
)

// LoginRequest supports password grant (dev/testing) and authorization-code exchange.
type LoginRequest struct {
	Mode        string `json:"mode" binding:"required"` // "password" | "auth_code"
	Username    string `json:"username"`
	Password    string `json:"password"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg         *config.Config
	usersSvc    *users.Service
	sessionsSvc *sessions.Service
	idVerifier  middleware.Verifier
	httpClient  *http.Client
}

// NewAuthHandler wires the handler; idVerifier checks Keycloak ID tokens.
func NewAuthHandler(cfg *config.Config, u *users.Service, s *sessions.Service, idVerifier middleware.Verifier) *AuthHandler {
	return &AuthHandler{
		cfg:         cfg,
		usersSvc:    u,
		sessionsSvc: s,
		idVerifier:  idVerifier,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Register routes under /auth. authn guards /auth/me.
func (h *AuthHandler) Register(rg *gin.RouterGroup, authn gin.HandlerFunc) {
	a := rg.Group("/auth")
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)
	a.GET("/me", authn, h.Me)
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Session.CookieName, value, maxAge, "/", h.cfg.Session.Domain, h.cfg.Session.Secure, true)
}

// Login exchanges Keycloak credentials, links the account and opens a cookie session.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "mode is required")
		return
	}
	if req.Mode != "password" && req.Mode != "auth_code" {
		fail(c, http.StatusBadRequest, "unsupported mode")
		return
	}
	kc := h.cfg.Keycloak
	if kc.URL == "" || kc.Realm == "" || h.idVerifier == nil {
		fail(c, http.StatusInternalServerError, "Keycloak not configured")
		return
	}
	tokenURL := oidc.IssuerURL(kc.URL, kc.Realm) + "/protocol/openid-connect/token"
	ctx := c.Request.Context()

	var (
		tokenResp *tokenResponse
		err       error
	)
	if req.Mode == "password" {
		tokenResp, err = h.requestToken(ctx, tokenURL, url.Values{
			"grant_type":    {"password"},
			"client_id":     {kc.ClientID},
			"client_secret": {kc.ClientSecret},
			"username":      {req.Username},
			"password":      {req.Password},
			"scope":         {"openid email profile"},
		}, false)
	} else {
		if req.Code == "" || req.RedirectURI == "" {
			fail(c, http.StatusBadRequest, "code and redirect_uri required for auth_code mode")
			return
		}
		logger.Debugf("Login(auth_code): code length=%d redirect_uri=%s", len(req.Code), req.RedirectURI)
		tokenResp, err = h.requestAuthCodeToken(ctx, tokenURL, kc.ClientID, kc.ClientSecret, req.Code, req.RedirectURI)
	}
	if err != nil {
		logger.Warnf("token exchange (%s) failed: %v", req.Mode, err)
		fail(c, http.StatusUnauthorized, "authentication failed")
		return
	}

	claims, err := oidc.Claims(ctx, h.idVerifier, tokenResp.IDToken)
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid id token")
		return
	}
	u, err := h.usersSvc.LinkFromClaims(ctx, claims)
	if err != nil {
		writeServiceError(c, "login", err)
		return
	}
	rft, err := h.sessionsSvc.CreateSession(ctx, u.ID, u.Sub, h.cfg.JWT.RefreshTokenTTL)
	if err != nil {
		logger.Errorf("failed to create session: %v", err)
		fail(c, http.StatusInternalServerError, "failed to create session")
		return
	}
	access, err := tokens.GenerateAccessToken(h.cfg, u, h.cfg.JWT.AccessTokenTTL)
	if err != nil {
		logger.Errorf("failed to create access token: %v", err)
		fail(c, http.StatusInternalServerError, "failed to create access token")
		return
	}
	h.setSessionCookie(c, rft, int(h.cfg.JWT.RefreshTokenTTL.Seconds()))
	respond(c, http.StatusOK, gin.H{
		"accessToken": access,
		"expiresIn":   int(h.cfg.JWT.AccessTokenTTL.Seconds()),
		"user":        u,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshToken reads the session cookie, falling back to the JSON body.
func (h *AuthHandler) refreshToken(c *gin.Context) string {
	if v, err := c.Cookie(h.cfg.Session.CookieName); err == nil && v != "" {
		return v
	}
	var req refreshRequest
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&req)
	}
	return req.RefreshToken
}

// Refresh issues a new access token for a valid session.
func (h *AuthHandler) Refresh(c *gin.Context) {
	rt := h.refreshToken(c)
	if rt == "" {
		fail(c, http.StatusUnauthorized, "no session")
		return
	}
	sess, err := h.sessionsSvc.ValidateRefresh(c.Request.Context(), rt)
	if err != nil {
		logger.Errorf("refresh validation failed: %v", err)
		fail(c, http.StatusInternalServerError, "validation failed")
		return
	}
	if sess == nil {
		fail(c, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	u, err := h.usersSvc.GetUser(c.Request.Context(), sess.UserID)
	if err != nil {
		_ = h.sessionsSvc.DeleteRefresh(c.Request.Context(), rt)
		fail(c, http.StatusUnauthorized, "account no longer exists")
		return
	}
	access, err := tokens.GenerateAccessToken(h.cfg, u, h.cfg.JWT.AccessTokenTTL)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to create access token")
		return
	}
	respond(c, http.StatusOK, gin.H{"accessToken": access, "expiresIn": int(h.cfg.JWT.AccessTokenTTL.Seconds())})
}

// Logout deletes the session, blacklists a presented access token and clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	if at := middleware.BearerToken(c); at != "" {
		if exp, err := parseExpFromJWT(at); err == nil {
			if ttl := time.Until(exp); ttl > 0 {
				if err := sessions.BlacklistAccessToken(ctx, at, ttl); err != nil {
					logger.Errorf("failed to blacklist access token: %v", err)
					fail(c, http.StatusInternalServerError, "failed to blacklist access token")
					return
				}
			}
		}
	}
	if rt := h.refreshToken(c); rt != "" {
		if err := h.sessionsSvc.DeleteRefresh(ctx, rt); err != nil {
			fail(c, http.StatusInternalServerError, "failed to remove session")
			return
		}
	}
	h.setSessionCookie(c, "", -1)
	respond(c, http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"user": middleware.CurrentUser(c)})
}

// parseExpFromJWT decodes the payload without verifying the signature; it is
// only used to size blacklist TTLs.
func parseExpFromJWT(tok string) (time.Time, error) {
	parts := strings.Split(tok, ".")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("invalid token")
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}, err
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(b, &claims); err != nil {
		return time.Time{}, err
	}
	switch v := claims["exp"].(type) {
	case float64:
		return time.Unix(int64(v), 0), nil
	case nil:
		return time.Time{}, fmt.Errorf("exp claim not present")
	default:
		return time.Time{}, fmt.Errorf("unsupported exp type %T", v)
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
}

// requestToken posts form to the token endpoint. With basic set, the client
// authenticates with HTTP Basic instead of client_secret_post.
func (h *AuthHandler) requestToken(ctx context.Context, tokenURL string, form url.Values, basic bool) (*tokenResponse, error) {
	body := form
	if basic {
		body = url.Values{}
		for k, v := range form {
			if k != "client_secret" {
				body[k] = v
			}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(body.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basic {
		req.SetBasicAuth(form.Get("client_id"), form.Get("client_secret"))
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &tokenError{status: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

type tokenError struct {
	status int
	body   string
}

func (e *tokenError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.status, e.body)
}

// requestAuthCodeToken exchanges an authorization code. A 401 is retried with
// HTTP Basic client auth, and a transient "Code not valid" once more.
func (h *AuthHandler) requestAuthCodeToken(ctx context.Context, tokenURL, clientID, clientSecret, code, redirectURI string) (*tokenResponse, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		tr, err := h.requestToken(ctx, tokenURL, form, false)
		if te, ok := err.(*tokenError); ok && te.status == http.StatusUnauthorized && clientSecret != "" {
			logger.Warnf("auth-code exchange returned 401; retrying with HTTP Basic client auth")
			tr, err = h.requestToken(ctx, tokenURL, form, true)
		}
		if err == nil {
			return tr, nil
		}
		lastErr = err
		te, ok := err.(*tokenError)
		if !ok || te.status != http.StatusBadRequest || !strings.Contains(te.body, "Code not valid") {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
	}
	return nil, lastErr
}
