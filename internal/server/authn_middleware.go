package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/jacksonlee411/loanportal/internal/routing"
	iamports "github.com/jacksonlee411/loanportal/modules/iam/domain/ports"
	"github.com/jacksonlee411/loanportal/pkg/authz"
)

var errMissingBearer = errors.New("server: missing bearer token")

type accessClaims struct {
	Email       string `json:"email"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

// tokenVerifier checks HS256 access tokens minted by the auth upstream.
type tokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func newTokenVerifier(secret string, audience string) *tokenVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if strings.TrimSpace(audience) != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &tokenVerifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}
}

func (v *tokenVerifier) Verify(raw string) (*accessClaims, error) {
	var claims accessClaims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("server: token has no subject")
	}
	return &claims, nil
}

// Subject returns the verified subject of the request's bearer token, or ""
// when there is no valid token.
func (v *tokenVerifier) Subject(r *http.Request) string {
	raw, err := bearerToken(r)
	if err != nil {
		return ""
	}
	claims, err := v.Verify(raw)
	if err != nil {
		return ""
	}
	return claims.Subject
}

func bearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", errMissingBearer
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("server: malformed authorization header")
	}
	return strings.TrimSpace(token), nil
}

// resolveRole picks the profile role when a profile exists, then the token
// claim, then borrower. Unknown role names degrade to borrower.
func resolveRole(ctx context.Context, profiles iamports.ProfileStore, claims *accessClaims, logger *zap.Logger) (role string, suspended bool) {
	role = claims.AppMetadata.Role
	if profiles != nil {
		p, err := profiles.GetProfile(ctx, claims.Subject)
		switch {
		case err == nil:
			if p.Suspended() {
				return "", true
			}
			if strings.TrimSpace(p.Role) != "" {
				role = p.Role
			}
		case errors.Is(err, iamports.ErrProfileNotFound):
		default:
			logger.Warn("profile lookup failed", zap.String("principal_id", claims.Subject), zap.Error(err))
		}
	}
	role = authz.Normalize(role)
	if role == authz.RoleAnonymous || !authz.Known(role) {
		role = authz.RoleBorrower
	}
	return role, false
}

func withAuthentication(classifier *routing.Classifier, verifier *tokenVerifier, profiles iamports.ProfileStore, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := classifier.Classify(r.URL.Path)

		raw, err := bearerToken(r)
		if errors.Is(err, errMissingBearer) {
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), anonymousPrincipal)))
			return
		}
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "invalid_token", "invalid authorization header")
			return
		}
		claims, err := verifier.Verify(raw)
		if err != nil {
			logger.Debug("token rejected", zap.Error(err))
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
			return
		}

		role, suspended := resolveRole(r.Context(), profiles, claims, logger)
		if suspended {
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "account_suspended", "account suspended")
			return
		}

		p := Principal{ID: claims.Subject, Email: claims.Email, Role: role}
		notePrincipal(r.Context(), p.ID)
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}
