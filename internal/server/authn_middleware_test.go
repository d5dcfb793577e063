package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	iamports "github.com/jacksonlee411/loanportal/modules/iam/domain/ports"
	iamtypes "github.com/jacksonlee411/loanportal/modules/iam/domain/types"
	"github.com/jacksonlee411/loanportal/modules/iam/infrastructure/persistence"
	"github.com/jacksonlee411/loanportal/pkg/authz"
)

type failingProfiles struct{}

func (failingProfiles) GetProfile(context.Context, string) (iamtypes.Profile, error) {
	return iamtypes.Profile{}, errors.New("db down")
}

func (failingProfiles) EnsureProfile(context.Context, iamtypes.Profile) (iamtypes.Profile, error) {
	return iamtypes.Profile{}, errors.New("db down")
}

func serveAuthn(t *testing.T, verifier *tokenVerifier, profiles iamports.ProfileStore, authHeader string) (*httptest.ResponseRecorder, Principal, bool) {
	t.Helper()

	var got Principal
	var reached bool
	h := withAuthentication(mustTestClassifier(t), verifier, profiles, zap.NewNop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		got = principalOrAnonymous(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/rest/v1/loan_products", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got, reached
}

func TestWithAuthentication_NoHeaderIsAnonymous(t *testing.T) {
	rec, p, reached := serveAuthn(t, newTokenVerifier(testJWTSecret, ""), nil, "")
	if !reached || rec.Code != http.StatusOK {
		t.Fatalf("status=%d reached=%v", rec.Code, reached)
	}
	if !p.Anonymous() || p.Role != authz.RoleAnonymous {
		t.Fatalf("principal=%+v", p)
	}
}

func TestWithAuthentication_ClaimRole(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{
		"sub":          "u1",
		"email":        "u1@example.com",
		"app_metadata": map[string]any{"role": "underwriter"},
	})
	rec, p, _ := serveAuthn(t, newTokenVerifier(testJWTSecret, ""), persistence.NewProfileMemoryStore(), "Bearer "+tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	want := Principal{ID: "u1", Email: "u1@example.com", Role: authz.RoleUnderwriter}
	if p != want {
		t.Fatalf("principal=%+v", p)
	}
}

func TestWithAuthentication_ProfileRoleWins(t *testing.T) {
	profiles := persistence.NewProfileMemoryStore(iamtypes.Profile{ID: "u1", Role: authz.RoleLoanOfficer, Status: iamtypes.ProfileStatusActive})
	tok := signToken(t, jwt.MapClaims{"sub": "u1", "app_metadata": map[string]any{"role": "admin"}})

	_, p, _ := serveAuthn(t, newTokenVerifier(testJWTSecret, ""), profiles, "Bearer "+tok)
	if p.Role != authz.RoleLoanOfficer {
		t.Fatalf("role=%s", p.Role)
	}
}

func TestWithAuthentication_UnknownRoleIsBorrower(t *testing.T) {
	for _, role := range []string{"", "root", "anonymous"} {
		tok := signToken(t, jwt.MapClaims{"sub": "u1", "app_metadata": map[string]any{"role": role}})
		_, p, _ := serveAuthn(t, newTokenVerifier(testJWTSecret, ""), nil, "Bearer "+tok)
		if p.Role != authz.RoleBorrower {
			t.Fatalf("claim %q: role=%s", role, p.Role)
		}
	}
}

func TestWithAuthentication_ProfileErrorFallsBackToClaim(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{"sub": "u1", "app_metadata": map[string]any{"role": "admin"}})
	rec, p, _ := serveAuthn(t, newTokenVerifier(testJWTSecret, ""), failingProfiles{}, "Bearer "+tok)
	if rec.Code != http.StatusOK || p.Role != authz.RoleAdmin {
		t.Fatalf("status=%d principal=%+v", rec.Code, p)
	}
}

func TestWithAuthentication_SuspendedProfile(t *testing.T) {
	profiles := persistence.NewProfileMemoryStore(iamtypes.Profile{ID: "u1", Role: authz.RoleBorrower, Status: iamtypes.ProfileStatusSuspended})
	tok := signToken(t, jwt.MapClaims{"sub": "u1"})

	rec, _, reached := serveAuthn(t, newTokenVerifier(testJWTSecret, ""), profiles, "Bearer "+tok)
	if reached || rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d reached=%v", rec.Code, reached)
	}
	if env := errorEnvelope(t, rec); env.Code != "account_suspended" {
		t.Fatalf("code=%s", env.Code)
	}
}

func TestWithAuthentication_RejectsBadTokens(t *testing.T) {
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("another-secret-another-secret-xx"))
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]struct {
		audience string
		header   string
	}{
		"expired":        {header: "Bearer " + signToken(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Minute).Unix()})},
		"no exp":         {header: "Bearer " + noExp},
		"no subject":     {header: "Bearer " + signToken(t, jwt.MapClaims{"role": "x"})},
		"hs512":          {header: "Bearer " + hs512},
		"wrong key":      {header: "Bearer " + wrongKey},
		"wrong audience": {audience: "portal", header: "Bearer " + signToken(t, jwt.MapClaims{"sub": "u1", "aud": "other"})},
		"basic scheme":   {header: "Basic dXNlcjpwdw=="},
		"empty bearer":   {header: "Bearer "},
		"garbage":        {header: "Bearer not.a.jwt"},
	}
	for name, tc := range cases {
		rec, _, reached := serveAuthn(t, newTokenVerifier(testJWTSecret, tc.audience), nil, tc.header)
		if reached || rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status=%d reached=%v", name, rec.Code, reached)
		}
		if env := errorEnvelope(t, rec); env.Code != "invalid_token" {
			t.Fatalf("%s: code=%s", name, env.Code)
		}
	}
}

func TestWithAuthentication_AudienceMatch(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{"sub": "u1", "aud": "portal"})
	rec, p, _ := serveAuthn(t, newTokenVerifier(testJWTSecret, "portal"), nil, "Bearer "+tok)
	if rec.Code != http.StatusOK || p.ID != "u1" {
		t.Fatalf("status=%d principal=%+v", rec.Code, p)
	}
}

func TestTokenVerifier_Subject(t *testing.T) {
	v := newTokenVerifier(testJWTSecret, "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := v.Subject(req); got != "" {
		t.Fatalf("subject=%q", got)
	}
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "u9"}))
	if got := v.Subject(req); got != "u9" {
		t.Fatalf("subject=%q", got)
	}
	req.Header.Set("Authorization", "Bearer forged")
	if got := v.Subject(req); got != "" {
		t.Fatalf("subject=%q", got)
	}
}

func TestWithAuthentication_NotesPrincipalForRequestLog(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{"sub": "u1"})
	fields := &requestFields{}

	h := withAuthentication(mustTestClassifier(t), newTokenVerifier(testJWTSecret, ""), nil, zap.NewNop(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/rest/v1/loan_products", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req = req.WithContext(context.WithValue(req.Context(), requestFieldsKey{}, fields))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if fields.principalID != "u1" {
		t.Fatalf("principal_id=%q", fields.principalID)
	}
}
