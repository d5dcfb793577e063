package authz

import (
	"fmt"
	"slices"
	"strings"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

type Mode string

const (
	ModeEnforce  Mode = "enforce"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

// ParseMode reads an authz mode. Empty means enforce. Disabled is refused
// unless allowUnsafeDisabled is set.
func ParseMode(raw string, allowUnsafeDisabled bool) (Mode, error) {
	m := Mode(strings.TrimSpace(strings.ToLower(raw)))
	switch m {
	case "":
		return ModeEnforce, nil
	case ModeEnforce, ModeShadow:
		return m, nil
	case ModeDisabled:
		if !allowUnsafeDisabled {
			return "", fmt.Errorf("authz: mode %q requires unsafe_allow_disabled", m)
		}
		return m, nil
	}
	return "", fmt.Errorf("authz: invalid mode %q (expected enforce|shadow|disabled)", raw)
}

// Decision is the outcome of one policy check. Enforced is false in shadow
// and disabled modes, where callers let the request through regardless.
type Decision struct {
	Allowed  bool
	Enforced bool
	// Rule is the policy line that granted access.
	Rule []string
}

// Authorizer checks role grants against the casbin policy in config/access.
type Authorizer struct {
	enforcer *casbin.Enforcer
	mode     Mode
}

func NewAuthorizer(modelPath string, policyPath string, mode Mode) (*Authorizer, error) {
	enforcer, err := casbin.NewEnforcer(modelPath)
	if err != nil {
		return nil, fmt.Errorf("authz: load model: %w", err)
	}
	enforcer.SetAdapter(fileadapter.NewAdapter(policyPath))
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("authz: load policy %s: %w", policyPath, err)
	}
	a := &Authorizer{enforcer: enforcer, mode: mode}
	if err := a.checkHierarchy(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Authorizer) Mode() Mode { return a.mode }

func SubjectFromRole(role string) string {
	return "role:" + Normalize(role)
}

// Decide reports whether role may perform action on object.
func (a *Authorizer) Decide(role string, object string, action string) (Decision, error) {
	switch a.mode {
	case ModeDisabled:
		return Decision{Allowed: true}, nil
	case ModeShadow, ModeEnforce:
	default:
		return Decision{}, fmt.Errorf("authz: unknown mode %q", a.mode)
	}
	ok, rule, err := a.enforcer.EnforceEx(SubjectFromRole(role), DomainGlobal, object, action)
	if err != nil {
		return Decision{}, fmt.Errorf("authz: enforce %s %s: %w", object, action, err)
	}
	return Decision{Allowed: ok, Enforced: a.mode == ModeEnforce, Rule: rule}, nil
}

// checkHierarchy fails when the policy's role chain disagrees with Roles:
// each role must inherit every role below it. Models without a g section
// have no chain to check.
func (a *Authorizer) checkHierarchy() error {
	if _, ok := a.enforcer.GetModel()["g"]["g"]; !ok {
		return nil
	}
	roles := Roles()
	for i, role := range roles {
		inherited, err := a.enforcer.GetImplicitRolesForUser(SubjectFromRole(role), DomainGlobal)
		if err != nil {
			return fmt.Errorf("authz: roles of %s: %w", role, err)
		}
		for _, lower := range roles[:i] {
			if !slices.Contains(inherited, SubjectFromRole(lower)) {
				return fmt.Errorf("authz: policy role %s does not inherit %s", role, lower)
			}
		}
	}
	return nil
}
