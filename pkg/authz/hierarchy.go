package authz

import "strings"

// Roles in ascending order of privilege. A role holds every right of the
// roles before it.
var hierarchy = []string{
	RoleAnonymous,
	RoleBorrower,
	RoleLoanOfficer,
	RoleUnderwriter,
	RoleAdmin,
	RoleSuperAdmin,
}

var levels = func() map[string]int {
	m := make(map[string]int, len(hierarchy))
	for i, r := range hierarchy {
		m[r] = i
	}
	return m
}()

// Normalize lowercases and trims a role slug. "user" and "customer" are
// accepted as legacy spellings of borrower; empty means anonymous.
func Normalize(role string) string {
	role = strings.TrimSpace(strings.ToLower(role))
	role = strings.ReplaceAll(role, "-", "_")
	switch role {
	case "":
		return RoleAnonymous
	case "user", "customer", "authenticated":
		return RoleBorrower
	case "superadmin":
		return RoleSuperAdmin
	}
	return role
}

func Known(role string) bool {
	_, ok := levels[Normalize(role)]
	return ok
}

// Level returns the rank of role, or -1 for an unknown role.
func Level(role string) int {
	if l, ok := levels[Normalize(role)]; ok {
		return l
	}
	return -1
}

// AtLeast reports whether role ranks at or above min. Unknown roles never pass.
func AtLeast(role string, min string) bool {
	l := Level(role)
	m := Level(min)
	if l < 0 || m < 0 {
		return false
	}
	return l >= m
}

func IsStaff(role string) bool { return AtLeast(role, RoleLoanOfficer) }

// Roles returns the hierarchy from lowest to highest.
func Roles() []string {
	out := make([]string, len(hierarchy))
	copy(out, hierarchy)
	return out
}
