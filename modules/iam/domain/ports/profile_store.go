package ports

import (
	"context"
	"errors"

	"github.com/jacksonlee411/loanportal/modules/iam/domain/types"
)

var ErrProfileNotFound = errors.New("iam: profile not found")

type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (types.Profile, error)
	// EnsureProfile inserts p when no profile exists for p.ID and returns
	// the stored profile either way.
	EnsureProfile(ctx context.Context, p types.Profile) (types.Profile, error)
}

// ProfileAdminStore is what user administration needs on top of lookups.
type ProfileAdminStore interface {
	ProfileStore
	ListProfiles(ctx context.Context, f types.ProfileFilter) ([]types.Profile, error)
	// UpdateAccess sets role and status on an existing profile.
	UpdateAccess(ctx context.Context, id string, role string, status string) (types.Profile, error)
}
