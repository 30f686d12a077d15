package oidc

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/artisthub/platform/backend/admin-service/pkg/logger"
	"github.com/artisthub/platform/backend/admin-service/pkg/middleware"
)

// Verifier wraps the OIDC provider and ID token verifier
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// IssuerURL returns the Keycloak realm issuer.
func IssuerURL(baseURL, realm string) string {
	return strings.TrimRight(baseURL, "/") + "/realms/" + realm
}

// NewVerifier discovers the provider at issuer and verifies tokens for clientID
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &Verifier{provider: provider, verifier: verifier}, nil
}

// Verify verifies the raw ID token and returns it as a middleware.Token
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}

// NewLoginVerifier returns a discovering verifier, or the insecure one when
// discovery fails and allowInsecure is set.
func NewLoginVerifier(ctx context.Context, issuer, clientID string, allowInsecure bool) (middleware.Verifier, error) {
	v, err := NewVerifier(ctx, issuer, clientID)
	if err == nil {
		return v, nil
	}
	if !allowInsecure {
		return nil, err
	}
	logger.Warnf("OIDC discovery failed (%v); ID tokens will not be verified", err)
	return NewInsecureVerifier(), nil
}

// Claims verifies raw with v and decodes its claims.
func Claims(ctx context.Context, v middleware.Verifier, raw string) (map[string]interface{}, error) {
	tok, err := v.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	var claims map[string]interface{}
	if err := tok.Claims(&claims); err != nil {
		return nil, err
	}
	return claims, nil
}
