package server

import (
	"context"
	"errors"

	iamports "github.com/jacksonlee411/loanportal/modules/iam/domain/ports"
	lendingports "github.com/jacksonlee411/loanportal/modules/lending/domain/ports"
	"github.com/jacksonlee411/loanportal/pkg/authz"
)

// profileDirectory answers lending's assignee lookups from iam profiles.
// Suspended staff cannot take new applications, so they read as unknown.
type profileDirectory struct {
	profiles iamports.ProfileStore
}

var _ lendingports.AssigneeDirectory = profileDirectory{}

func (d profileDirectory) AssigneeRole(ctx context.Context, id string) (string, error) {
	p, err := d.profiles.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, iamports.ErrProfileNotFound) {
			return "", lendingports.ErrNotFound
		}
		return "", err
	}
	if p.Suspended() {
		return "", lendingports.ErrNotFound
	}
	return authz.Normalize(p.Role), nil
}
