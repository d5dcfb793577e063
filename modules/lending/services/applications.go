package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jacksonlee411/loanportal/modules/lending/domain/ports"
	"github.com/jacksonlee411/loanportal/modules/lending/domain/types"
	"github.com/jacksonlee411/loanportal/pkg/authz"
	"github.com/jacksonlee411/loanportal/pkg/httperr"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxNoteLength    = 4000
)

type CreateDraftInput struct {
	BusinessName string
	LoanType     types.LoanType
	Amount       decimal.Decimal
	TermMonths   int
	Purpose      string
	FormData     map[string]any
}

// DraftPatch carries the fields an applicant changes. Nil fields are left
// alone; FormData keys are merged and a nil value removes a key.
type DraftPatch struct {
	BusinessName *string
	LoanType     *types.LoanType
	Amount       *decimal.Decimal
	TermMonths   *int
	Purpose      *string
	FormData     map[string]any
}

type TransitionInput struct {
	To             types.Status
	Note           string
	ApprovedAmount *decimal.Decimal
}

type Service struct {
	store     ports.Store
	assignees ports.AssigneeDirectory
	catalog   *Catalog
	templates *Templates

	now   func() time.Time
	newID func() (string, error)
}

func NewService(store ports.Store, assignees ports.AssigneeDirectory, catalog *Catalog, templates *Templates) *Service {
	return &Service{
		store:     store,
		assignees: assignees,
		catalog:   catalog,
		templates: templates,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     newRecordID,
	}
}

// newRecordID returns a time-ordered v7 id so primary-key order follows
// creation order.
func newRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *Service) Catalog() *Catalog { return s.catalog }

func requireAuthenticated(actor types.Actor) error {
	if strings.TrimSpace(actor.ID) == "" || !authz.AtLeast(actor.Role, authz.RoleBorrower) {
		return httperr.NewForbidden("sign in required")
	}
	return nil
}

func requireRole(actor types.Actor, minRole string) error {
	if err := requireAuthenticated(actor); err != nil {
		return err
	}
	if !authz.AtLeast(actor.Role, minRole) {
		return httperr.NewForbidden("requires " + minRole)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, ports.ErrNotFound) {
		return httperr.NewNotFound("application not found")
	}
	return err
}

func stale(err error) error {
	if errors.Is(err, ports.ErrStaleStatus) {
		return httperr.NewConflict("stale_status", "application changed, reload and retry")
	}
	return err
}

// load returns the application when actor may see it. Borrowers see only
// their own applications; anything else reads as not found.
func (s *Service) load(ctx context.Context, actor types.Actor, id string) (types.Application, error) {
	if err := requireAuthenticated(actor); err != nil {
		return types.Application{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return types.Application{}, httperr.NewBadRequestCode("invalid_id", "application id is required")
	}
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return types.Application{}, notFound(err)
	}
	if app.ApplicantID != actor.ID && !authz.IsStaff(actor.Role) {
		return types.Application{}, httperr.NewNotFound("application not found")
	}
	return app, nil
}

func validateBasics(app types.Application) error {
	if strings.TrimSpace(app.BusinessName) == "" {
		return httperr.NewBadRequestCode("missing_business_name", "business_name is required")
	}
	if !app.LoanType.Valid() {
		return httperr.NewBadRequestCode("invalid_loan_type", fmt.Sprintf("unknown loan_type %q", app.LoanType))
	}
	if !app.Amount.IsPositive() {
		return httperr.NewBadRequestCode("invalid_amount", "amount must be greater than zero")
	}
	if app.TermMonths <= 0 {
		return httperr.NewBadRequestCode("invalid_term", "term_months must be greater than zero")
	}
	return nil
}

// ValidateForSubmission runs the full product checks an application must
// pass before it leaves the applicant's hands.
func (s *Service) ValidateForSubmission(app types.Application) error {
	if err := validateBasics(app); err != nil {
		return err
	}
	p, ok := s.catalog.Product(app.LoanType)
	if !ok {
		return httperr.NewBadRequestCode("product_unavailable", fmt.Sprintf("loan_type %s is not offered", app.LoanType))
	}
	var missing []string
	for _, f := range p.RequiredFields {
		v, ok := app.FormData[f]
		if !ok || v == nil {
			missing = append(missing, f)
			continue
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return httperr.NewBadRequestCode("missing_required_fields", "missing required fields: "+strings.Join(missing, ", "))
	}
	if app.Amount.LessThan(p.MinAmount) || app.Amount.GreaterThan(p.MaxAmount) {
		return httperr.NewBadRequestCode("amount_out_of_range", fmt.Sprintf("amount must be between %s and %s", p.MinAmount, p.MaxAmount))
	}
	if app.TermMonths < p.MinTermMonths || app.TermMonths > p.MaxTermMonths {
		return httperr.NewBadRequestCode("term_out_of_range", fmt.Sprintf("term_months must be between %d and %d", p.MinTermMonths, p.MaxTermMonths))
	}
	ok, err := s.catalog.Eligible(app)
	if err != nil {
		return httperr.NewBadRequestCode("eligibility_error", err.Error())
	}
	if !ok {
		return httperr.NewBadRequestCode("not_eligible", "application does not meet "+p.DisplayName+" eligibility")
	}
	return nil
}

func (s *Service) CreateDraft(ctx context.Context, actor types.Actor, in CreateDraftInput) (types.Application, error) {
	if err := requireAuthenticated(actor); err != nil {
		return types.Application{}, err
	}
	id, err := s.newID()
	if err != nil {
		return types.Application{}, err
	}
	now := s.now()
	form := in.FormData
	if form == nil {
		form = map[string]any{}
	}
	app := types.Application{
		ID:           id,
		ApplicantID:  actor.ID,
		BusinessName: strings.TrimSpace(in.BusinessName),
		LoanType:     in.LoanType,
		Amount:       in.Amount,
		TermMonths:   in.TermMonths,
		Purpose:      strings.TrimSpace(in.Purpose),
		Status:       types.StatusDraft,
		FormData:     form,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := validateBasics(app); err != nil {
		return types.Application{}, err
	}
	if err := s.store.InsertApplication(ctx, app); err != nil {
		return types.Application{}, err
	}
	return app, nil
}

func (s *Service) UpdateDraft(ctx context.Context, actor types.Actor, id string, patch DraftPatch) (types.Application, error) {
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return types.Application{}, err
	}
	if app.ApplicantID != actor.ID {
		return types.Application{}, httperr.NewForbidden("only the applicant may edit the application")
	}
	if !app.Status.Editable() {
		return types.Application{}, httperr.NewConflict("application_locked", "application is "+string(app.Status)+" and can no longer be edited")
	}
	if patch.BusinessName != nil {
		app.BusinessName = strings.TrimSpace(*patch.BusinessName)
	}
	if patch.LoanType != nil {
		app.LoanType = *patch.LoanType
	}
	if patch.Amount != nil {
		app.Amount = *patch.Amount
	}
	if patch.TermMonths != nil {
		app.TermMonths = *patch.TermMonths
	}
	if patch.Purpose != nil {
		app.Purpose = strings.TrimSpace(*patch.Purpose)
	}
	if len(patch.FormData) > 0 {
		merged := make(map[string]any, len(app.FormData)+len(patch.FormData))
		for k, v := range app.FormData {
			merged[k] = v
		}
		for k, v := range patch.FormData {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		app.FormData = merged
	}
	if err := validateBasics(app); err != nil {
		return types.Application{}, err
	}
	app.UpdatedAt = s.now()
	if err := s.store.UpdateDraft(ctx, app); err != nil {
		return types.Application{}, stale(notFound(err))
	}
	return app, nil
}

func (s *Service) Submit(ctx context.Context, actor types.Actor, id string) (types.Application, error) {
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return types.Application{}, err
	}
	if err := CheckTransition(app.Status, types.StatusSubmitted, actor, app.ApplicantID == actor.ID); err != nil {
		return types.Application{}, err
	}
	if err := s.ValidateForSubmission(app); err != nil {
		return types.Application{}, err
	}
	return s.transition(ctx, actor, app, types.StatusSubmitted, "")
}

func (s *Service) Withdraw(ctx context.Context, actor types.Actor, id string, note string) (types.Application, error) {
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return types.Application{}, err
	}
	if err := CheckTransition(app.Status, types.StatusWithdrawn, actor, app.ApplicantID == actor.ID); err != nil {
		return types.Application{}, err
	}
	return s.transition(ctx, actor, app, types.StatusWithdrawn, note)
}

func (s *Service) Get(ctx context.Context, actor types.Actor, id string) (types.Application, error) {
	return s.load(ctx, actor, id)
}

func (s *Service) ListMine(ctx context.Context, actor types.Actor) ([]types.Application, error) {
	if err := requireAuthenticated(actor); err != nil {
		return nil, err
	}
	return s.store.ListApplications(ctx, types.ListFilter{ApplicantID: actor.ID, Limit: maxListLimit})
}

func (s *Service) Events(ctx context.Context, actor types.Actor, id string) ([]types.StatusEvent, error) {
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, app.ID)
}

func normalizeFilter(f types.ListFilter) (types.ListFilter, error) {
	if f.Status != "" && !f.Status.Valid() {
		return f, httperr.NewBadRequestCode("invalid_status", fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.LoanType != "" && !f.LoanType.Valid() {
		return f, httperr.NewBadRequestCode("invalid_loan_type", fmt.Sprintf("unknown loan_type %q", f.LoanType))
	}
	if f.Limit < 0 || f.Offset < 0 {
		return f, httperr.NewBadRequestCode("invalid_paging", "limit and offset must not be negative")
	}
	if f.Limit == 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	f.Query = strings.TrimSpace(f.Query)
	return f, nil
}

func (s *Service) List(ctx context.Context, actor types.Actor, filter types.ListFilter) ([]types.Application, error) {
	if err := requireRole(actor, authz.RoleLoanOfficer); err != nil {
		return nil, err
	}
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	return s.store.ListApplications(ctx, filter)
}

func (s *Service) Assign(ctx context.Context, actor types.Actor, id string, officerID string) (types.Application, error) {
	if err := requireRole(actor, authz.RoleAdmin); err != nil {
		return types.Application{}, err
	}
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return types.Application{}, err
	}
	if app.Status.Terminal() {
		return types.Application{}, httperr.NewConflict("application_closed", "application is "+string(app.Status))
	}
	officerID = strings.TrimSpace(officerID)
	if officerID == "" {
		return types.Application{}, httperr.NewBadRequestCode("invalid_assignee", "officer_id is required")
	}
	role, err := s.assignees.AssigneeRole(ctx, officerID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return types.Application{}, httperr.NewBadRequestCode("invalid_assignee", "assignee not found")
		}
		return types.Application{}, err
	}
	if !authz.IsStaff(role) {
		return types.Application{}, httperr.NewBadRequestCode("invalid_assignee", "assignee must be at least "+authz.RoleLoanOfficer)
	}
	now := s.now()
	if err := s.store.SetAssignee(ctx, app.ID, officerID, now); err != nil {
		return types.Application{}, notFound(err)
	}
	app.AssignedOfficerID = officerID
	app.UpdatedAt = now
	return app, nil
}

// Transition handles the staff-driven moves. Approval needs an
// approved_amount in (0, amount].
func (s *Service) Transition(ctx context.Context, actor types.Actor, id string, in TransitionInput) (types.Application, error) {
	if err := requireRole(actor, authz.RoleLoanOfficer); err != nil {
		return types.Application{}, err
	}
	if !in.To.Valid() {
		return types.Application{}, httperr.NewBadRequestCode("invalid_status", fmt.Sprintf("unknown status %q", in.To))
	}
	switch in.To {
	case types.StatusFunded:
		return types.Application{}, httperr.NewBadRequestCode("use_fund", "funding goes through the fund operation")
	case types.StatusSubmitted, types.StatusWithdrawn, types.StatusDraft:
		return types.Application{}, httperr.NewBadRequestCode("applicant_transition", "status "+string(in.To)+" is set by the applicant's own submit or withdraw")
	}
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return types.Application{}, err
	}
	if err := CheckTransition(app.Status, in.To, actor, app.ApplicantID == actor.ID); err != nil {
		return types.Application{}, err
	}
	if in.To == types.StatusApproved {
		if in.ApprovedAmount == nil || !in.ApprovedAmount.IsPositive() || in.ApprovedAmount.GreaterThan(app.Amount) {
			return types.Application{}, httperr.NewBadRequestCode("invalid_approved_amount", "approved_amount must be greater than 0 and at most "+app.Amount.String())
		}
		amt := *in.ApprovedAmount
		app.ApprovedAmount = &amt
	}
	return s.transition(ctx, actor, app, in.To, in.Note)
}

func (s *Service) Fund(ctx context.Context, actor types.Actor, id string, amount decimal.Decimal) (types.Application, error) {
	if err := requireRole(actor, authz.RoleLoanOfficer); err != nil {
		return types.Application{}, err
	}
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return types.Application{}, err
	}
	if err := CheckTransition(app.Status, types.StatusFunded, actor, app.ApplicantID == actor.ID); err != nil {
		return types.Application{}, err
	}
	if app.ApprovedAmount == nil || !amount.IsPositive() || amount.GreaterThan(*app.ApprovedAmount) {
		limit := "0"
		if app.ApprovedAmount != nil {
			limit = app.ApprovedAmount.String()
		}
		return types.Application{}, httperr.NewBadRequestCode("invalid_funded_amount", "funded amount must be greater than 0 and at most "+limit)
	}
	app.FundedAmount = &amount
	return s.transition(ctx, actor, app, types.StatusFunded, "")
}

func (s *Service) transition(ctx context.Context, actor types.Actor, app types.Application, to types.Status, note string) (types.Application, error) {
	now := s.now()
	from := app.Status
	app.Status = to
	app.UpdatedAt = now
	switch to {
	case types.StatusSubmitted:
		app.SubmittedAt = &now
	case types.StatusApproved, types.StatusRejected:
		app.DecidedAt = &now
	case types.StatusFunded:
		app.FundedAt = &now
	}

	note = strings.TrimSpace(note)
	ev := types.StatusEvent{
		ApplicationID: app.ID,
		From:          from,
		To:            to,
		ActorID:       actor.ID,
		ActorRole:     authz.Normalize(actor.Role),
		Note:          note,
		CreatedAt:     now,
	}
	n, err := s.notification(app, from, to, note, now)
	if err != nil {
		return types.Application{}, err
	}
	if err := s.store.SaveTransition(ctx, app, from, ev, n); err != nil {
		return types.Application{}, stale(notFound(err))
	}
	return app, nil
}

func (s *Service) notification(app types.Application, from types.Status, to types.Status, note string, now time.Time) (*types.Notification, error) {
	product := string(app.LoanType)
	if p, ok := s.catalog.Product(app.LoanType); ok {
		product = p.DisplayName
	}
	subject, body, ok, err := s.templates.Render(MessageData{Application: app, Product: product, From: from, To: to, Note: note})
	if err != nil {
		return nil, fmt.Errorf("lending: render %s notification: %w", to, err)
	}
	if !ok {
		return nil, nil
	}
	id, err := s.newID()
	if err != nil {
		return nil, err
	}
	return &types.Notification{
		ID:            id,
		RecipientID:   app.ApplicantID,
		ApplicationID: app.ID,
		Kind:          "status." + string(to),
		Subject:       subject,
		Body:          body,
		CreatedAt:     now,
	}, nil
}

func (s *Service) AddNote(ctx context.Context, actor types.Actor, id string, body string, internal bool) (types.Note, error) {
	if err := requireRole(actor, authz.RoleLoanOfficer); err != nil {
		return types.Note{}, err
	}
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return types.Note{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return types.Note{}, httperr.NewBadRequestCode("empty_note", "note body is required")
	}
	if len(body) > maxNoteLength {
		return types.Note{}, httperr.NewBadRequestCode("note_too_long", fmt.Sprintf("note body exceeds %d bytes", maxNoteLength))
	}
	noteID, err := s.newID()
	if err != nil {
		return types.Note{}, err
	}
	note := types.Note{
		ID:            noteID,
		ApplicationID: app.ID,
		AuthorID:      actor.ID,
		Body:          body,
		Internal:      internal,
		CreatedAt:     s.now(),
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return types.Note{}, err
	}
	return note, nil
}

// Notes hides internal notes from anyone below loan_officer.
func (s *Service) Notes(ctx context.Context, actor types.Actor, id string) ([]types.Note, error) {
	app, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.store.ListNotes(ctx, app.ID, authz.IsStaff(actor.Role))
}

func (s *Service) Dashboard(ctx context.Context, actor types.Actor) (types.Dashboard, error) {
	if err := requireRole(actor, authz.RoleLoanOfficer); err != nil {
		return types.Dashboard{}, err
	}
	totals, err := s.store.StatusTotals(ctx)
	if err != nil {
		return types.Dashboard{}, err
	}
	return foldDashboard(totals), nil
}

func foldDashboard(totals []types.StatusTotal) types.Dashboard {
	d := types.Dashboard{ByStatus: make(map[types.Status]int, len(types.Statuses()))}
	for _, st := range types.Statuses() {
		d.ByStatus[st] = 0
	}
	pipeline := decimal.Zero
	funded := decimal.Zero
	for _, t := range totals {
		d.ByStatus[t.Status] += t.Count
		d.Total += t.Count
		if t.Status.InPipeline() {
			pipeline = pipeline.Add(t.Amount)
		}
		funded = funded.Add(t.FundedAmount)
	}
	d.PipelineAmount = pipeline.StringFixed(2)
	d.FundedAmount = funded.StringFixed(2)
	return d
}

func (s *Service) ListNotifications(ctx context.Context, actor types.Actor, unreadOnly bool) ([]types.Notification, error) {
	if err := requireAuthenticated(actor); err != nil {
		return nil, err
	}
	return s.store.ListNotifications(ctx, actor.ID, unreadOnly)
}

func (s *Service) MarkNotificationRead(ctx context.Context, actor types.Actor, id string) (types.Notification, error) {
	if err := requireAuthenticated(actor); err != nil {
		return types.Notification{}, err
	}
	n, err := s.store.MarkNotificationRead(ctx, actor.ID, strings.TrimSpace(id), s.now())
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return types.Notification{}, httperr.NewNotFound("notification not found")
		}
		return types.Notification{}, err
	}
	return n, nil
}
