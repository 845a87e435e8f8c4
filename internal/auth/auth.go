// Package auth protects the pipeline API with OpenID Connect bearer tokens.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"

	"regwatch-ai/backend/internal/apperrors"
	"regwatch-ai/backend/internal/config"
	"regwatch-ai/backend/internal/logging"
	"regwatch-ai/backend/internal/repository"
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Email   string
	// OrganizationID is set when the token is bound to one organization.
	OrganizationID string
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by RequireAuth.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ResolveOrganization returns the organization a request acts on. An empty
// request falls back to the organization bound to the caller's token. A token
// bound to one organization cannot act on another.
func ResolveOrganization(ctx context.Context, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	p, ok := PrincipalFrom(ctx)
	if !ok || p.OrganizationID == "" {
		return requested, nil
	}
	if requested == "" {
		return p.OrganizationID, nil
	}
	if requested != p.OrganizationID {
		return "", apperrors.Forbidden("organization_id", "token is not authorized for organization %q", requested)
	}
	return requested, nil
}

// Auth verifies access tokens issued by the configured provider.
type Auth struct {
	verifier   *oidc.IDTokenVerifier
	profiles   repository.ProfileStore
	logger     *logging.Logger
	authBypass bool
}

// New creates an Auth from the application configuration. In DEV with
// dev_mode_bypass set, no provider is contacted and every request is let
// through as a local developer.
func New(ctx context.Context, cfg *config.Config, profiles repository.ProfileStore, logger *logging.Logger) (*Auth, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	a := &Auth{
		profiles:   profiles,
		logger:     logger.With("component", "auth"),
		authBypass: strings.ToUpper(cfg.Environment) == "DEV" && cfg.DevModeBypass,
	}
	if a.authBypass {
		return a, nil
	}

	if cfg.Auth.Issuer == "" {
		return nil, errors.New("auth configuration is incomplete")
	}
	provider, err := oidc.NewProvider(ctx, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}

	// Access tokens usually carry an API audience rather than the client id.
	oc := &oidc.Config{ClientID: cfg.Auth.ClientID, SkipClientIDCheck: cfg.Auth.ClientID == ""}
	a.verifier = provider.Verifier(oc)
	return a, nil
}

// RequireAuth rejects requests without a valid bearer token. A token carrying
// an org_id claim must name a known organization.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Principal

		if a.authBypass {
			p = Principal{Subject: "dev", Email: "dev@localhost"}
		} else {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			token, err := a.verifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
				return
			}

			var claims struct {
				Email          string `json:"email"`
				OrganizationID string `json:"org_id"`
			}
			if err := token.Claims(&claims); err != nil {
				http.Error(w, "failed to parse token claims", http.StatusUnauthorized)
				return
			}
			p = Principal{Subject: token.Subject, Email: claims.Email, OrganizationID: claims.OrganizationID}
		}

		if p.OrganizationID != "" {
			if _, err := a.profiles.GetProfile(r.Context(), p.OrganizationID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					http.Error(w, "unknown organization in token", http.StatusForbidden)
					return
				}
				a.logger.Error("failed to resolve organization", "organization_id", p.OrganizationID, "error", err)
				http.Error(w, "organization lookup failed", http.StatusServiceUnavailable)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
