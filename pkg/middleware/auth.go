package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/artisthub/platform/backend/admin-service/internal/models"
	"github.com/artisthub/platform/backend/admin-service/internal/sessions"
	"github.com/artisthub/platform/backend/admin-service/internal/users"
	"github.com/artisthub/platform/backend/admin-service/pkg/logger"
)

// Context keys set by Authenticate.
const (
	ClaimsKey = "claims"
	UserKey   = "user"
)

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// UserLoader loads the current state of an account.
type UserLoader interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// SessionValidator resolves a session cookie.
type SessionValidator interface {
	ValidateRefresh(ctx context.Context, refresh string) (*sessions.Session, error)
}

// AuthConfig wires Authenticate. Sessions may be nil to accept bearer tokens only.
type AuthConfig struct {
	Verifier   Verifier
	Sessions   SessionValidator
	Users      UserLoader
	CookieName string
}

func abortJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

// ClaimsUserID extracts the numeric uid claim.
func ClaimsUserID(claims map[string]interface{}) (int64, bool) {
	switch v := claims["uid"].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case int64:
		return v, true
	}
	return 0, false
}

// Authenticate accepts a bearer access token or, failing that, the session
// cookie. The user is reloaded on every request so role changes apply at once.
func Authenticate(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var userID int64
		if raw := BearerToken(c); raw != "" {
			if bl, err := sessions.IsAccessTokenBlacklisted(ctx, raw); err != nil {
				logger.Warnf("blacklist check failed: %v", err)
			} else if bl {
				abortJSON(c, http.StatusUnauthorized, "token revoked")
				return
			}
			tok, err := cfg.Verifier.Verify(ctx, raw)
			if err != nil {
				abortJSON(c, http.StatusUnauthorized, "invalid token")
				return
			}
			var claims map[string]interface{}
			if err := tok.Claims(&claims); err != nil {
				abortJSON(c, http.StatusUnauthorized, "failed to parse claims")
				return
			}
			id, ok := ClaimsUserID(claims)
			if !ok {
				abortJSON(c, http.StatusUnauthorized, "token has no user id")
				return
			}
			userID = id
			c.Set(ClaimsKey, claims)
		} else if cookie, err := c.Cookie(cfg.CookieName); err == nil && cookie != "" && cfg.Sessions != nil {
			sess, err := cfg.Sessions.ValidateRefresh(ctx, cookie)
			if err != nil {
				logger.Errorf("session lookup failed: %v", err)
				abortJSON(c, http.StatusInternalServerError, "session lookup failed")
				return
			}
			if sess == nil {
				abortJSON(c, http.StatusUnauthorized, "session expired")
				return
			}
			userID = sess.UserID
			c.Set(ClaimsKey, map[string]interface{}{"sub": sess.Sub, "uid": float64(sess.UserID)})
		} else {
			abortJSON(c, http.StatusUnauthorized, "authentication required")
			return
		}

		u, err := cfg.Users.GetUser(ctx, userID)
		if err != nil && !errors.Is(err, users.ErrNotFound) {
			logger.Errorf("user lookup failed: %v", err)
			abortJSON(c, http.StatusInternalServerError, "failed to load account")
			return
		}
		if err != nil || u == nil {
			abortJSON(c, http.StatusUnauthorized, "account no longer exists")
			return
		}
		c.Set(UserKey, u)
		c.Next()
	}
}

// CurrentUser returns the user set by Authenticate.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

// RequireRole lets the request through when the current user holds one of roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := CurrentUser(c)
		if u == nil {
			abortJSON(c, http.StatusUnauthorized, "authentication required")
			return
		}
		have := u.EffectiveRole()
		for _, r := range roles {
			if have == r {
				c.Next()
				return
			}
		}
		abortJSON(c, http.StatusForbidden, "insufficient role")
	}
}
