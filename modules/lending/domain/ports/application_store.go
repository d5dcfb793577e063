package ports

import (
	"context"
	"errors"
	"time"

	"github.com/jacksonlee411/loanportal/modules/lending/domain/types"
)

var (
	ErrNotFound = errors.New("lending: not found")
	// ErrStaleStatus means the stored status no longer matches the one a
	// change was computed from.
	ErrStaleStatus = errors.New("lending: status changed concurrently")
)

type ApplicationStore interface {
	InsertApplication(ctx context.Context, app types.Application) error
	GetApplication(ctx context.Context, id string) (types.Application, error)
	UpdateDraft(ctx context.Context, app types.Application) error
	SaveTransition(ctx context.Context, app types.Application, from types.Status, ev types.StatusEvent, n *types.Notification) error
	SetAssignee(ctx context.Context, id string, officerID string, at time.Time) error
	ListApplications(ctx context.Context, filter types.ListFilter) ([]types.Application, error)
	ListEvents(ctx context.Context, applicationID string) ([]types.StatusEvent, error)
	InsertNote(ctx context.Context, note types.Note) error
	ListNotes(ctx context.Context, applicationID string, includeInternal bool) ([]types.Note, error)
	StatusTotals(ctx context.Context) ([]types.StatusTotal, error)
}

type NotificationStore interface {
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]types.Notification, error)
	MarkNotificationRead(ctx context.Context, recipientID string, id string, at time.Time) (types.Notification, error)
}

type Store interface {
	ApplicationStore
	NotificationStore
}

// AssigneeDirectory resolves the role of a prospective assignee. Unknown ids
// return ErrNotFound.
type AssigneeDirectory interface {
	AssigneeRole(ctx context.Context, id string) (string, error)
}
