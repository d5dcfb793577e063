package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/jacksonlee411/loanportal/internal/config"
	"github.com/jacksonlee411/loanportal/internal/routing"
	"github.com/jacksonlee411/loanportal/pkg/authz"
)

func loadAuthorizer(cfg config.AuthzConfig) (*authz.Authorizer, error) {
	mode, err := authz.ParseMode(cfg.Mode, cfg.UnsafeAllowDisabled)
	if err != nil {
		return nil, err
	}
	return authz.NewAuthorizer(cfg.ModelPath, cfg.PolicyPath, mode)
}

type authorizer interface {
	Decide(role string, object string, action string) (authz.Decision, error)
}

func withAuthz(classifier *routing.Classifier, a authorizer, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		rc := classifier.Classify(path)

		object, action, shouldCheck := authzRequirementForRoute(r.Method, path)
		if !shouldCheck {
			next.ServeHTTP(w, r)
			return
		}

		p := principalOrAnonymous(r.Context())
		d, err := a.Decide(p.Role, object, action)
		if err != nil {
			logger.Error("authz error", zap.Error(err), zap.String("object", object), zap.String("action", action))
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if !d.Allowed && !d.Enforced {
			logger.Warn("authz shadow deny",
				zap.String("role", p.Role),
				zap.String("object", object),
				zap.String("action", action),
			)
		}
		if d.Enforced && !d.Allowed {
			if p.Anonymous() {
				routing.WriteError(w, r, rc, http.StatusUnauthorized, "unauthenticated", "sign in required")
				return
			}
			routing.WriteError(w, r, rc, http.StatusForbidden, "forbidden", "forbidden")
			return
		}
		if d.Allowed && len(d.Rule) > 0 {
			logger.Debug("authz allow", zap.String("role", p.Role), zap.Strings("rule", d.Rule))
		}

		next.ServeHTTP(w, r)
	})
}

// withRoleFloor rejects back-office calls from anyone below loan_officer
// before any handler or policy lookup runs.
func withRoleFloor(classifier *routing.Classifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !pathHasPrefixSegment(r.URL.Path, "/admin/api") {
			next.ServeHTTP(w, r)
			return
		}
		p := principalOrAnonymous(r.Context())
		if authz.AtLeast(p.Role, authz.RoleLoanOfficer) {
			next.ServeHTTP(w, r)
			return
		}
		rc := classifier.Classify(r.URL.Path)
		if p.Anonymous() {
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "unauthenticated", "sign in required")
			return
		}
		routing.WriteError(w, r, rc, http.StatusForbidden, "insufficient_role", "staff role required")
	})
}

func authzRequirementForRoute(method string, path string) (object string, action string, ok bool) {
	if fn, matched := routing.MatchTemplate("/rest/v1/rpc/{function}", path); matched {
		if method == http.MethodGet || method == http.MethodPost {
			return authz.ObjectForFunction(fn["function"]), authz.ActionRead, true
		}
		return "", "", false
	}
	if tbl, matched := routing.MatchTemplate("/rest/v1/{table}", path); matched {
		switch method {
		case http.MethodGet:
			return authz.ObjectForTable(tbl["table"]), authz.ActionRead, true
		case http.MethodPost, http.MethodPatch, http.MethodDelete:
			return authz.ObjectForTable(tbl["table"]), authz.ActionWrite, true
		}
		return "", "", false
	}

	for _, tmpl := range []string{
		"/loan/api/applications/{id}/submit",
		"/loan/api/applications/{id}/withdraw",
	} {
		if _, matched := routing.MatchTemplate(tmpl, path); matched {
			if method == http.MethodPost {
				return authz.ObjectLoanApplications, authz.ActionWrite, true
			}
			return "", "", false
		}
	}
	if _, matched := routing.MatchTemplate("/loan/api/applications/{id}/events", path); matched {
		if method == http.MethodGet {
			return authz.ObjectLoanApplications, authz.ActionRead, true
		}
		return "", "", false
	}
	if _, matched := routing.MatchTemplate("/loan/api/applications/{id}", path); matched {
		if method == http.MethodGet {
			return authz.ObjectLoanApplications, authz.ActionRead, true
		}
		if method == http.MethodPatch {
			return authz.ObjectLoanApplications, authz.ActionWrite, true
		}
		return "", "", false
	}
	if _, matched := routing.MatchTemplate("/loan/api/notifications/{id}/read", path); matched {
		if method == http.MethodPost {
			return authz.ObjectLoanNotifications, authz.ActionWrite, true
		}
		return "", "", false
	}
	if _, matched := routing.MatchTemplate("/admin/api/applications/{id}/assign", path); matched {
		if method == http.MethodPost {
			return authz.ObjectAdminApplications, authz.ActionAdmin, true
		}
		return "", "", false
	}
	for _, tmpl := range []string{
		"/admin/api/applications/{id}/transition",
		"/admin/api/applications/{id}/fund",
	} {
		if _, matched := routing.MatchTemplate(tmpl, path); matched {
			if method == http.MethodPost {
				return authz.ObjectAdminApplications, authz.ActionWrite, true
			}
			return "", "", false
		}
	}
	for _, tmpl := range []string{
		"/admin/api/users/{id}/role",
		"/admin/api/users/{id}/status",
	} {
		if _, matched := routing.MatchTemplate(tmpl, path); matched {
			if method == http.MethodPost {
				return authz.ObjectAdminUsers, authz.ActionAdmin, true
			}
			return "", "", false
		}
	}
	if _, matched := routing.MatchTemplate("/admin/api/applications/{id}/notes", path); matched {
		if method == http.MethodGet {
			return authz.ObjectAdminApplications, authz.ActionRead, true
		}
		if method == http.MethodPost {
			return authz.ObjectAdminApplications, authz.ActionWrite, true
		}
		return "", "", false
	}

	switch path {
	case "/auth/v1/token", "/auth/v1/signup":
		if method == http.MethodPost {
			return authz.ObjectAuthSession, authz.ActionWrite, true
		}
		return "", "", false
	case "/auth/v1/logout":
		if method == http.MethodPost {
			return authz.ObjectAuthSession, authz.ActionRead, true
		}
		return "", "", false
	case "/auth/v1/user":
		if method == http.MethodGet {
			return authz.ObjectAuthSession, authz.ActionRead, true
		}
		return "", "", false
	case "/loan/api/products":
		if method == http.MethodGet {
			return authz.ObjectLoanProducts, authz.ActionRead, true
		}
		return "", "", false
	case "/loan/api/applications":
		if method == http.MethodGet {
			return authz.ObjectLoanApplications, authz.ActionRead, true
		}
		if method == http.MethodPost {
			return authz.ObjectLoanApplications, authz.ActionWrite, true
		}
		return "", "", false
	case "/loan/api/notifications":
		if method == http.MethodGet {
			return authz.ObjectLoanNotifications, authz.ActionRead, true
		}
		return "", "", false
	case "/admin/api/applications":
		if method == http.MethodGet {
			return authz.ObjectAdminApplications, authz.ActionRead, true
		}
		return "", "", false
	case "/admin/api/users":
		if method == http.MethodGet {
			return authz.ObjectAdminUsers, authz.ActionRead, true
		}
		return "", "", false
	case "/admin/api/dashboard":
		if method == http.MethodGet {
			return authz.ObjectAdminDashboard, authz.ActionRead, true
		}
		return "", "", false
	default:
		return "", "", false
	}
}

func pathHasPrefixSegment(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)+1] == prefix+"/"
}
