package server

import (
	"context"

	iamservices "github.com/jacksonlee411/loanportal/modules/iam/services"
	"github.com/jacksonlee411/loanportal/modules/lending/domain/types"
	"github.com/jacksonlee411/loanportal/pkg/authz"
	"github.com/jacksonlee411/loanportal/pkg/pgrest"
)

// Principal is the caller resolved from the bearer token. Anonymous callers
// carry an empty ID and the anonymous role.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

func (p Principal) Anonymous() bool { return p.ID == "" }

func (p Principal) caller() pgrest.Caller {
	return pgrest.Caller{ID: p.ID, Role: p.Role}
}

var anonymousPrincipal = Principal{Role: authz.RoleAnonymous}

type principalContextKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func currentPrincipal(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalContextKey{})
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// principalOrAnonymous never fails; requests that skipped authentication
// behave as anonymous.
func principalOrAnonymous(ctx context.Context) Principal {
	if p, ok := currentPrincipal(ctx); ok {
		return p
	}
	return anonymousPrincipal
}

// lendingActor adapts the request principal for the lending controllers.
func lendingActor(ctx context.Context) (types.Actor, bool) {
	p, ok := currentPrincipal(ctx)
	if !ok || p.Anonymous() {
		return types.Actor{}, false
	}
	return types.Actor{ID: p.ID, Role: p.Role}, true
}

func iamActor(ctx context.Context) (iamservices.Actor, bool) {
	p, ok := currentPrincipal(ctx)
	if !ok || p.Anonymous() {
		return iamservices.Actor{}, false
	}
	return iamservices.Actor{ID: p.ID, Role: p.Role}, true
}
