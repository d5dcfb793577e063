package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jacksonlee411/loanportal/modules/lending/domain/ports"
	"github.com/jacksonlee411/loanportal/modules/lending/domain/types"
)

func seed(t *testing.T, s *MemoryStore, id string, applicant string, status types.Status, at time.Time) types.Application {
	t.Helper()
	app := types.Application{
		ID:           id,
		ApplicantID:  applicant,
		BusinessName: "Biz " + id,
		LoanType:     types.LoanTypeTermLoan,
		Amount:       decimal.NewFromInt(1000),
		Status:       status,
		FormData:     map[string]any{"k": "v"},
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	if err := s.InsertApplication(context.Background(), app); err != nil {
		t.Fatal(err)
	}
	return app
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	seed(t, s, "a1", "u1", types.StatusDraft, created)
	app, err := s.GetApplication(context.Background(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	app.FormData["k"] = "changed"
	again, _ := s.GetApplication(context.Background(), "a1")
	if again.FormData["k"] != "v" {
		t.Fatalf("form=%v", again.FormData)
	}
	if _, err := s.GetApplication(context.Background(), "nope"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestMemoryStore_SaveTransitionChecksStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	app := seed(t, s, "a1", "u1", types.StatusDraft, created)

	app.Status = types.StatusSubmitted
	n := &types.Notification{ID: "n1", RecipientID: "u1", ApplicationID: "a1"}
	if err := s.SaveTransition(ctx, app, types.StatusDraft, types.StatusEvent{ApplicationID: "a1", From: types.StatusDraft, To: types.StatusSubmitted}, n); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTransition(ctx, app, types.StatusDraft, types.StatusEvent{ApplicationID: "a1"}, nil); !errors.Is(err, ports.ErrStaleStatus) {
		t.Fatalf("err=%v", err)
	}
	events, _ := s.ListEvents(ctx, "a1")
	if len(events) != 1 || events[0].ID != 1 {
		t.Fatalf("events=%+v", events)
	}
	if err := s.UpdateDraft(ctx, app); !errors.Is(err, ports.ErrStaleStatus) {
		t.Fatalf("err=%v", err)
	}

	list, _ := s.ListNotifications(ctx, "u1", true)
	if len(list) != 1 {
		t.Fatalf("notifications=%+v", list)
	}
	read, err := s.MarkNotificationRead(ctx, "u1", "n1", created)
	if err != nil || read.ReadAt == nil {
		t.Fatalf("read=%+v err=%v", read, err)
	}
	if _, err := s.MarkNotificationRead(ctx, "u2", "n1", created); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
	if list, _ := s.ListNotifications(ctx, "u1", true); len(list) != 0 {
		t.Fatalf("unread=%+v", list)
	}
}

func TestMemoryStore_ListApplications(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "a1", "u1", types.StatusDraft, created)
	seed(t, s, "a2", "u2", types.StatusSubmitted, created.Add(time.Minute))
	seed(t, s, "a3", "u1", types.StatusSubmitted, created.Add(2*time.Minute))

	got, _ := s.ListApplications(ctx, types.ListFilter{})
	if len(got) != 3 || got[0].ID != "a3" || got[2].ID != "a1" {
		t.Fatalf("got=%v", ids(got))
	}
	got, _ = s.ListApplications(ctx, types.ListFilter{Status: types.StatusSubmitted, ApplicantID: "u1"})
	if len(got) != 1 || got[0].ID != "a3" {
		t.Fatalf("got=%v", ids(got))
	}
	got, _ = s.ListApplications(ctx, types.ListFilter{Query: "BIZ A2"})
	if len(got) != 1 || got[0].ID != "a2" {
		t.Fatalf("got=%v", ids(got))
	}
	got, _ = s.ListApplications(ctx, types.ListFilter{Limit: 1, Offset: 1})
	if len(got) != 1 || got[0].ID != "a2" {
		t.Fatalf("got=%v", ids(got))
	}
	got, _ = s.ListApplications(ctx, types.ListFilter{Offset: 9})
	if len(got) != 0 {
		t.Fatalf("got=%v", ids(got))
	}
}

func TestMemoryStore_NotesAndTotals(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "a1", "u1", types.StatusDraft, created)
	seed(t, s, "a2", "u1", types.StatusDraft, created)

	_ = s.InsertNote(ctx, types.Note{ID: "n1", ApplicationID: "a1", Body: "public"})
	_ = s.InsertNote(ctx, types.Note{ID: "n2", ApplicationID: "a1", Body: "secret", Internal: true})
	if err := s.InsertNote(ctx, types.Note{ID: "n3", ApplicationID: "zz"}); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
	if notes, _ := s.ListNotes(ctx, "a1", false); len(notes) != 1 {
		t.Fatalf("notes=%+v", notes)
	}
	if notes, _ := s.ListNotes(ctx, "a1", true); len(notes) != 2 {
		t.Fatalf("notes=%+v", notes)
	}

	if err := s.SetAssignee(ctx, "a1", "o1", created); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAssignee(ctx, "zz", "o1", created); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}

	totals, _ := s.StatusTotals(ctx)
	if len(totals) != 1 || totals[0].Count != 2 || totals[0].Amount.String() != "2000" {
		t.Fatalf("totals=%+v", totals)
	}
}

func ids(apps []types.Application) []string {
	out := make([]string, len(apps))
	for i, a := range apps {
		out[i] = a.ID
	}
	return out
}
