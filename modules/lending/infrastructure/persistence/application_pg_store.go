package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/jacksonlee411/loanportal/modules/lending/domain/ports"
	"github.com/jacksonlee411/loanportal/modules/lending/domain/types"
	"github.com/jacksonlee411/loanportal/pkg/pgerr"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ApplicationPGStore persists lending state in the lending schema. Every
// transaction runs with the service claim so row-level policies written for
// the REST proxy do not hide rows from the workflow.
type ApplicationPGStore struct {
	pool pgBeginner
}

func NewApplicationPGStore(pool pgBeginner) *ApplicationPGStore {
	return &ApplicationPGStore{pool: pool}
}

var _ ports.Store = (*ApplicationPGStore)(nil)

const serviceClaimRole = "service"

// invalidTextRepresentation is raised when an id does not parse as a uuid.
const invalidTextRepresentation = "22P02"

// lookupErr reports a missing row, or a key that cannot name one, as
// ErrNotFound.
func lookupErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) || pgerr.Code(err) == invalidTextRepresentation {
		return ports.ErrNotFound
	}
	return err
}

// likeContains builds an ILIKE pattern matching q literally anywhere in the
// value. Pair it with ESCAPE '\'.
func likeContains(q string) string {
	return "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q) + "%"
}

func (s *ApplicationPGStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claim.role', $1, true);`, serviceClaimRole); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const applicationColumns = `
	  id::text,
	  applicant_id::text,
	  business_name,
	  loan_type,
	  amount::text,
	  term_months,
	  purpose,
	  status,
	  coalesce(assigned_officer_id::text, ''),
	  form_data,
	  approved_amount::text,
	  funded_amount::text,
	  submitted_at,
	  decided_at,
	  funded_at,
	  created_at,
	  updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func optionalDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func scanApplication(row scanner) (types.Application, error) {
	var (
		app                    types.Application
		loanType, status       string
		amount                 string
		form                   []byte
		approvedRaw, fundedRaw *string
	)
	if err := row.Scan(
		&app.ID,
		&app.ApplicantID,
		&app.BusinessName,
		&loanType,
		&amount,
		&app.TermMonths,
		&app.Purpose,
		&status,
		&app.AssignedOfficerID,
		&form,
		&approvedRaw,
		&fundedRaw,
		&app.SubmittedAt,
		&app.DecidedAt,
		&app.FundedAt,
		&app.CreatedAt,
		&app.UpdatedAt,
	); err != nil {
		return types.Application{}, err
	}
	app.LoanType = types.LoanType(loanType)
	app.Status = types.Status(status)

	var err error
	if app.Amount, err = decimal.NewFromString(amount); err != nil {
		return types.Application{}, err
	}
	if app.ApprovedAmount, err = optionalDecimal(approvedRaw); err != nil {
		return types.Application{}, err
	}
	if app.FundedAmount, err = optionalDecimal(fundedRaw); err != nil {
		return types.Application{}, err
	}
	app.FormData = map[string]any{}
	if len(form) > 0 {
		if err := json.Unmarshal(form, &app.FormData); err != nil {
			return types.Application{}, err
		}
	}
	return app, nil
}

func formJSON(form map[string]any) ([]byte, error) {
	if form == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(form)
}

func (s *ApplicationPGStore) InsertApplication(ctx context.Context, app types.Application) error {
	form, err := formJSON(app.FormData)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
	INSERT INTO lending.applications (
	  id, applicant_id, business_name, loan_type, amount, term_months, purpose, status, form_data, created_at, updated_at
	) VALUES (
	  $1::uuid, $2::uuid, $3, $4, $5::numeric, $6, $7, $8, $9::jsonb, $10, $11
	)
	`, app.ID, app.ApplicantID, app.BusinessName, string(app.LoanType), app.Amount.String(), app.TermMonths,
			app.Purpose, string(app.Status), string(form), app.CreatedAt, app.UpdatedAt)
		return err
	})
}

func (s *ApplicationPGStore) GetApplication(ctx context.Context, id string) (types.Application, error) {
	var app types.Application
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		app, err = scanApplication(tx.QueryRow(ctx, `SELECT`+applicationColumns+`
	FROM lending.applications
	WHERE id = $1::uuid
	`, id))
		return err
	})
	if err != nil {
		return types.Application{}, lookupErr(err)
	}
	return app, nil
}

func (s *ApplicationPGStore) UpdateDraft(ctx context.Context, app types.Application) error {
	form, err := formJSON(app.FormData)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
	UPDATE lending.applications
	SET business_name = $2, loan_type = $3, amount = $4::numeric, term_months = $5, purpose = $6, form_data = $7::jsonb, updated_at = $8
	WHERE id = $1::uuid AND status IN ('draft', 'info_requested')
	`, app.ID, app.BusinessName, string(app.LoanType), app.Amount.String(), app.TermMonths, app.Purpose, string(form), app.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return s.missingOrStale(ctx, tx, app.ID)
		}
		return nil
	})
}

func (s *ApplicationPGStore) missingOrStale(ctx context.Context, tx pgx.Tx, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lending.applications WHERE id = $1::uuid);`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ports.ErrNotFound
	}
	return ports.ErrStaleStatus
}

func (s *ApplicationPGStore) SaveTransition(ctx context.Context, app types.Application, from types.Status, ev types.StatusEvent, n *types.Notification) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
	UPDATE lending.applications
	SET status = $3,
	    approved_amount = $4::numeric,
	    funded_amount = $5::numeric,
	    submitted_at = $6,
	    decided_at = $7,
	    funded_at = $8,
	    updated_at = $9
	WHERE id = $1::uuid AND status = $2
	`, app.ID, string(from), string(app.Status), decimalArg(app.ApprovedAmount), decimalArg(app.FundedAmount),
			app.SubmittedAt, app.DecidedAt, app.FundedAt, app.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return s.missingOrStale(ctx, tx, app.ID)
		}

		if _, err := tx.Exec(ctx, `
	INSERT INTO lending.status_events (application_id, from_status, to_status, actor_id, actor_role, note, created_at)
	VALUES ($1::uuid, $2, $3, nullif($4, '')::uuid, $5, $6, $7)
	`, ev.ApplicationID, string(ev.From), string(ev.To), ev.ActorID, ev.ActorRole, ev.Note, ev.CreatedAt); err != nil {
			return err
		}

		if n == nil {
			return nil
		}
		_, err = tx.Exec(ctx, `
	INSERT INTO lending.notifications (id, recipient_id, application_id, kind, subject, body, created_at)
	VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7)
	`, n.ID, n.RecipientID, n.ApplicationID, n.Kind, n.Subject, n.Body, n.CreatedAt)
		return err
	})
}

func (s *ApplicationPGStore) SetAssignee(ctx context.Context, id string, officerID string, at time.Time) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
	UPDATE lending.applications SET assigned_officer_id = $2::uuid, updated_at = $3 WHERE id = $1::uuid
	`, id, officerID, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ports.ErrNotFound
		}
		return nil
	})
	return lookupErr(err)
}

func listApplicationsQuery(f types.ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.LoanType != "" {
		add("loan_type = ?", string(f.LoanType))
	}
	if f.AssignedTo != "" {
		add("assigned_officer_id = ?::uuid", f.AssignedTo)
	}
	if f.ApplicantID != "" {
		add("applicant_id = ?::uuid", f.ApplicantID)
	}
	if f.Query != "" {
		add(`business_name ILIKE ? ESCAPE '\'`, likeContains(f.Query))
	}

	var b strings.Builder
	b.WriteString("SELECT")
	b.WriteString(applicationColumns)
	b.WriteString("\n\tFROM lending.applications")
	if len(conds) > 0 {
		b.WriteString("\n\tWHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString("\n\tORDER BY created_at DESC, id DESC")
	if f.Limit > 0 {
		b.WriteString("\n\tLIMIT " + strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(f.Offset))
	}
	return b.String(), args
}

func (s *ApplicationPGStore) ListApplications(ctx context.Context, f types.ListFilter) ([]types.Application, error) {
	query, args := listApplicationsQuery(f)
	out := make([]types.Application, 0)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			app, err := scanApplication(rows)
			if err != nil {
				return err
			}
			out = append(out, app)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ApplicationPGStore) ListEvents(ctx context.Context, applicationID string) ([]types.StatusEvent, error) {
	out := make([]types.StatusEvent, 0)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
	SELECT id, application_id::text, from_status, to_status, coalesce(actor_id::text, ''), actor_role, note, created_at
	FROM lending.status_events
	WHERE application_id = $1::uuid
	ORDER BY id ASC
	`, applicationID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ev types.StatusEvent
			var from, to string
			if err := rows.Scan(&ev.ID, &ev.ApplicationID, &from, &to, &ev.ActorID, &ev.ActorRole, &ev.Note, &ev.CreatedAt); err != nil {
				return err
			}
			ev.From = types.Status(from)
			ev.To = types.Status(to)
			out = append(out, ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ApplicationPGStore) InsertNote(ctx context.Context, note types.Note) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
	INSERT INTO lending.notes (id, application_id, author_id, body, internal, created_at)
	VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6)
	`, note.ID, note.ApplicationID, note.AuthorID, note.Body, note.Internal, note.CreatedAt)
		return err
	})
}

func (s *ApplicationPGStore) ListNotes(ctx context.Context, applicationID string, includeInternal bool) ([]types.Note, error) {
	out := make([]types.Note, 0)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
	SELECT id::text, application_id::text, author_id::text, body, internal, created_at
	FROM lending.notes
	WHERE application_id = $1::uuid AND ($2::boolean OR NOT internal)
	ORDER BY created_at ASC, id ASC
	`, applicationID, includeInternal)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var n types.Note
			if err := rows.Scan(&n.ID, &n.ApplicationID, &n.AuthorID, &n.Body, &n.Internal, &n.CreatedAt); err != nil {
				return err
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ApplicationPGStore) StatusTotals(ctx context.Context) ([]types.StatusTotal, error) {
	out := make([]types.StatusTotal, 0)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
	SELECT status, count(*)::int, coalesce(sum(amount), 0)::text, coalesce(sum(funded_amount), 0)::text
	FROM lending.applications
	GROUP BY status
	ORDER BY status
	`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				t              types.StatusTotal
				status         string
				amount, funded string
			)
			if err := rows.Scan(&status, &t.Count, &amount, &funded); err != nil {
				return err
			}
			t.Status = types.Status(status)
			if t.Amount, err = decimal.NewFromString(amount); err != nil {
				return err
			}
			if t.FundedAmount, err = decimal.NewFromString(funded); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const notificationColumns = `id::text, recipient_id::text, coalesce(application_id::text, ''), kind, subject, body, read_at, created_at`

func scanNotification(row scanner) (types.Notification, error) {
	var n types.Notification
	err := row.Scan(&n.ID, &n.RecipientID, &n.ApplicationID, &n.Kind, &n.Subject, &n.Body, &n.ReadAt, &n.CreatedAt)
	return n, err
}

func (s *ApplicationPGStore) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]types.Notification, error) {
	out := make([]types.Notification, 0)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
	SELECT `+notificationColumns+`
	FROM lending.notifications
	WHERE recipient_id = $1::uuid AND (NOT $2::boolean OR read_at IS NULL)
	ORDER BY created_at DESC, id DESC
	`, recipientID, unreadOnly)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			n, err := scanNotification(rows)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ApplicationPGStore) MarkNotificationRead(ctx context.Context, recipientID string, id string, at time.Time) (types.Notification, error) {
	var n types.Notification
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		n, err = scanNotification(tx.QueryRow(ctx, `
	UPDATE lending.notifications
	SET read_at = coalesce(read_at, $3)
	WHERE id = $1::uuid AND recipient_id = $2::uuid
	RETURNING `+notificationColumns, id, recipientID, at))
		return err
	})
	if err != nil {
		return types.Notification{}, lookupErr(err)
	}
	return n, nil
}
