package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jacksonlee411/loanportal/internal/routing"
	iamports "github.com/jacksonlee411/loanportal/modules/iam/domain/ports"
	iamtypes "github.com/jacksonlee411/loanportal/modules/iam/domain/types"
	"github.com/jacksonlee411/loanportal/modules/iam/infrastructure/gotrue"
	"github.com/jacksonlee411/loanportal/pkg/authz"
)

// AuthUpstream is the auth service sign-in and sign-up calls forward to.
type AuthUpstream interface {
	PasswordGrant(ctx context.Context, email string, password string) (gotrue.Session, error)
	RefreshGrant(ctx context.Context, refreshToken string) (gotrue.Session, error)
	SignUp(ctx context.Context, email string, password string, data map[string]any) (gotrue.Session, error)
	Logout(ctx context.Context, accessToken string) error
}

var _ AuthUpstream = (*gotrue.Client)(nil)

type authAPI struct {
	upstream AuthUpstream
	profiles iamports.ProfileStore
	logger   *zap.Logger
}

func (a authAPI) Register(router *routing.Router) {
	router.Handle(routing.RouteClassAuthn, http.MethodPost, "/auth/v1/token", http.HandlerFunc(a.handleToken))
	router.Handle(routing.RouteClassAuthn, http.MethodPost, "/auth/v1/signup", http.HandlerFunc(a.handleSignUp))
	router.Handle(routing.RouteClassAuthn, http.MethodPost, "/auth/v1/logout", http.HandlerFunc(a.handleLogout))
	router.Handle(routing.RouteClassAuthn, http.MethodGet, "/auth/v1/user", http.HandlerFunc(a.handleUser))
}

func writeAuthError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	routing.WriteError(w, r, routing.RouteClassAuthn, status, code, message)
}

// relayUpstreamError passes client errors from the auth service through and
// turns everything else into a gateway error.
func (a authAPI) relayUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	if httpErr, ok := errors.AsType[*gotrue.HTTPError](err); ok {
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			writeAuthError(w, r, httpErr.StatusCode, "auth_rejected", strings.TrimSpace(httpErr.Message))
			return
		}
	}
	a.logger.Error("auth upstream error", zap.String("path", r.URL.Path), zap.Error(err))
	writeAuthError(w, r, http.StatusBadGateway, "auth_upstream_error", "auth service error")
}

func (a authAPI) available(w http.ResponseWriter, r *http.Request) bool {
	if a.upstream == nil {
		writeAuthError(w, r, http.StatusServiceUnavailable, "auth_unavailable", "auth service not configured")
		return false
	}
	return true
}

func decodeAuthBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := readProxyBody(w, r)
	if err != nil {
		writeAuthError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeAuthError(w, r, http.StatusBadRequest, "invalid_json", "invalid json")
		return false
	}
	return true
}

// ensureProfile records a borrower profile for a user the upstream knows.
// Existing profiles keep their role. Failures are logged and do not fail the
// sign-in.
func (a authAPI) ensureProfile(ctx context.Context, s gotrue.Session, email string, fullName string) {
	if a.profiles == nil {
		return
	}
	id := s.UserID()
	if id == "" {
		return
	}
	if _, err := a.profiles.EnsureProfile(ctx, iamtypes.Profile{
		ID:       id,
		Email:    email,
		FullName: fullName,
		Role:     authz.RoleBorrower,
		Status:   iamtypes.ProfileStatusActive,
	}); err != nil {
		a.logger.Warn("ensure profile failed", zap.String("principal_id", id), zap.Error(err))
	}
}

func writeSession(w http.ResponseWriter, status int, s gotrue.Session) {
	if len(s.Raw) > 0 {
		writeRawJSON(w, status, "application/json", s.Raw)
		return
	}
	routing.WriteJSON(w, status, s)
}

func (a authAPI) handleToken(w http.ResponseWriter, r *http.Request) {
	if !a.available(w, r) {
		return
	}
	var req struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
	}

	switch grant := r.URL.Query().Get("grant_type"); grant {
	case "password":
		if !decodeAuthBody(w, r, &req) {
			return
		}
		email := strings.TrimSpace(req.Email)
		if email == "" || strings.TrimSpace(req.Password) == "" {
			writeAuthError(w, r, http.StatusBadRequest, "invalid_credentials", "email and password required")
			return
		}
		s, err := a.upstream.PasswordGrant(r.Context(), email, req.Password)
		if err != nil {
			a.relayUpstreamError(w, r, err)
			return
		}
		a.ensureProfile(r.Context(), s, email, "")
		writeSession(w, http.StatusOK, s)
	case "refresh_token":
		if !decodeAuthBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.RefreshToken) == "" {
			writeAuthError(w, r, http.StatusBadRequest, "missing_refresh_token", "refresh_token required")
			return
		}
		s, err := a.upstream.RefreshGrant(r.Context(), req.RefreshToken)
		if err != nil {
			a.relayUpstreamError(w, r, err)
			return
		}
		writeSession(w, http.StatusOK, s)
	default:
		writeAuthError(w, r, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be password or refresh_token")
	}
}

func (a authAPI) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if !a.available(w, r) {
		return
	}
	var req struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	if !decodeAuthBody(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || strings.TrimSpace(req.Password) == "" {
		writeAuthError(w, r, http.StatusBadRequest, "invalid_credentials", "email and password required")
		return
	}
	// Clients never choose their own role.
	delete(req.Data, "role")

	s, err := a.upstream.SignUp(r.Context(), email, req.Password, req.Data)
	if err != nil {
		a.relayUpstreamError(w, r, err)
		return
	}
	fullName, _ := req.Data["full_name"].(string)
	a.ensureProfile(r.Context(), s, email, strings.TrimSpace(fullName))
	writeSession(w, http.StatusOK, s)
}

func (a authAPI) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !a.available(w, r) {
		return
	}
	token, err := bearerToken(r)
	if err != nil {
		writeAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}
	if err := a.upstream.Logout(r.Context(), token); err != nil {
		a.relayUpstreamError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a authAPI) handleUser(w http.ResponseWriter, r *http.Request) {
	p, ok := currentPrincipal(r.Context())
	if !ok || p.Anonymous() {
		writeAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return
	}
	routing.WriteJSON(w, http.StatusOK, p)
}
