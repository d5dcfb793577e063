package persistence

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jacksonlee411/loanportal/modules/lending/domain/ports"
	"github.com/jacksonlee411/loanportal/modules/lending/domain/types"
)

// MemoryStore keeps lending state in process. It backs tests and local runs
// without Postgres.
type MemoryStore struct {
	mu            sync.Mutex
	apps          map[string]types.Application
	events        []types.StatusEvent
	notes         []types.Note
	notifications []types.Notification
	nextEventID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{apps: make(map[string]types.Application)}
}

var _ ports.Store = (*MemoryStore)(nil)

func cloneApplication(app types.Application) types.Application {
	if app.FormData != nil {
		form := make(map[string]any, len(app.FormData))
		for k, v := range app.FormData {
			form[k] = v
		}
		app.FormData = form
	}
	return app
}

func (s *MemoryStore) InsertApplication(_ context.Context, app types.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.ID] = cloneApplication(app)
	return nil
}

func (s *MemoryStore) GetApplication(_ context.Context, id string) (types.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return types.Application{}, ports.ErrNotFound
	}
	return cloneApplication(app), nil
}

func (s *MemoryStore) UpdateDraft(_ context.Context, app types.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.apps[app.ID]
	if !ok {
		return ports.ErrNotFound
	}
	if !cur.Status.Editable() {
		return ports.ErrStaleStatus
	}
	cur.BusinessName = app.BusinessName
	cur.LoanType = app.LoanType
	cur.Amount = app.Amount
	cur.TermMonths = app.TermMonths
	cur.Purpose = app.Purpose
	cur.FormData = app.FormData
	cur.UpdatedAt = app.UpdatedAt
	s.apps[app.ID] = cloneApplication(cur)
	return nil
}

func (s *MemoryStore) SaveTransition(_ context.Context, app types.Application, from types.Status, ev types.StatusEvent, n *types.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.apps[app.ID]
	if !ok {
		return ports.ErrNotFound
	}
	if cur.Status != from {
		return ports.ErrStaleStatus
	}
	s.apps[app.ID] = cloneApplication(app)
	s.nextEventID++
	ev.ID = s.nextEventID
	s.events = append(s.events, ev)
	if n != nil {
		s.notifications = append(s.notifications, *n)
	}
	return nil
}

func (s *MemoryStore) SetAssignee(_ context.Context, id string, officerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.apps[id]
	if !ok {
		return ports.ErrNotFound
	}
	cur.AssignedOfficerID = officerID
	cur.UpdatedAt = at
	s.apps[id] = cur
	return nil
}

func matches(app types.Application, f types.ListFilter) bool {
	if f.Status != "" && app.Status != f.Status {
		return false
	}
	if f.LoanType != "" && app.LoanType != f.LoanType {
		return false
	}
	if f.AssignedTo != "" && app.AssignedOfficerID != f.AssignedTo {
		return false
	}
	if f.ApplicantID != "" && app.ApplicantID != f.ApplicantID {
		return false
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(app.BusinessName), strings.ToLower(f.Query)) {
		return false
	}
	return true
}

// ListApplications orders newest first, matching the PG store.
func (s *MemoryStore) ListApplications(_ context.Context, f types.ListFilter) ([]types.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Application, 0)
	for _, app := range s.apps {
		if matches(app, f) {
			out = append(out, cloneApplication(app))
		}
	}
	slices.SortFunc(out, func(a, b types.Application) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if f.Offset >= len(out) {
		return []types.Application{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, applicationID string) ([]types.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.StatusEvent, 0)
	for _, ev := range s.events {
		if ev.ApplicationID == applicationID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertNote(_ context.Context, note types.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[note.ApplicationID]; !ok {
		return ports.ErrNotFound
	}
	s.notes = append(s.notes, note)
	return nil
}

func (s *MemoryStore) ListNotes(_ context.Context, applicationID string, includeInternal bool) ([]types.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Note, 0)
	for _, n := range s.notes {
		if n.ApplicationID != applicationID || (n.Internal && !includeInternal) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *MemoryStore) StatusTotals(_ context.Context) ([]types.StatusTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStatus := make(map[types.Status]*types.StatusTotal)
	for _, app := range s.apps {
		t, ok := byStatus[app.Status]
		if !ok {
			t = &types.StatusTotal{Status: app.Status}
			byStatus[app.Status] = t
		}
		t.Count++
		t.Amount = t.Amount.Add(app.Amount)
		if app.FundedAmount != nil {
			t.FundedAmount = t.FundedAmount.Add(*app.FundedAmount)
		}
	}
	out := make([]types.StatusTotal, 0, len(byStatus))
	for _, st := range types.Statuses() {
		if t, ok := byStatus[st]; ok {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, recipientID string, unreadOnly bool) ([]types.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Notification, 0)
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.RecipientID != recipientID || (unreadOnly && n.ReadAt != nil) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, recipientID string, id string, at time.Time) (types.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		n := &s.notifications[i]
		if n.ID != id || n.RecipientID != recipientID {
			continue
		}
		if n.ReadAt == nil {
			readAt := at
			n.ReadAt = &readAt
		}
		return *n, nil
	}
	return types.Notification{}, ports.ErrNotFound
}
