package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spf13/cobra"
)

const smokeRole = "app_nobypassrls"

func newRLSSmokeCmd(t *tool) *cobra.Command {
	return &cobra.Command{
		Use:   "rls-smoke",
		Short: "Check the row policies against a migrated database; all writes are rolled back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := rlsSmoke(ctx, t.dsn()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "[rls-smoke] OK")
			return nil
		},
	}
}

func rlsSmoke(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	_ = tryEnsureRole(ctx, conn, smokeRole)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if !trySetRole(ctx, tx, smokeRole) {
		return fmt.Errorf("cannot SET ROLE %s", smokeRole)
	}

	borrowerA := uuid.NewString()
	borrowerB := uuid.NewString()
	appID := uuid.NewString()

	if err := setClaims(ctx, tx, "", "anonymous"); err != nil {
		return err
	}
	if n, err := countApplications(ctx, tx); err != nil || n != 0 {
		return fmt.Errorf("expected anonymous to see 0 applications, got %d (%v)", n, err)
	}

	if err := setClaims(ctx, tx, borrowerA, "borrower"); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO lending.applications (id, applicant_id, loan_type, amount, term_months)
VALUES ($1::uuid, $2::uuid, 'sba_7a', 100000, 120);`, appID, borrowerA); err != nil {
		return fmt.Errorf("owner insert: %w", err)
	}

	err = inSavepoint(ctx, tx, "sp_cross_insert", func() error {
		_, err := tx.Exec(ctx, `
INSERT INTO lending.applications (id, applicant_id, loan_type, amount, term_months)
VALUES ($1::uuid, $2::uuid, 'sba_7a', 100000, 120);`, uuid.NewString(), borrowerB)
		return err
	})
	if err == nil {
		return errors.New("expected RLS rejection on insert for another applicant")
	}
	if msg, ok := pgErrorMessage(err); !ok || !strings.Contains(msg, "row-level security") {
		return fmt.Errorf("cross-applicant insert failed for another reason: %w", err)
	}

	err = inSavepoint(ctx, tx, "sp_owner_status", func() error {
		tag, err := tx.Exec(ctx, `UPDATE lending.applications SET status = 'funded' WHERE id = $1::uuid;`, appID)
		if err == nil && tag.RowsAffected() == 0 {
			return errors.New("no rows")
		}
		return err
	})
	if err == nil {
		return errors.New("expected RLS rejection on owner-written status")
	}

	err = inSavepoint(ctx, tx, "sp_status_event", func() error {
		_, err := tx.Exec(ctx, `
INSERT INTO lending.status_events (application_id, from_status, to_status, actor_role)
VALUES ($1::uuid, 'draft', 'approved', 'borrower');`, appID)
		return err
	})
	if err == nil {
		return errors.New("expected RLS rejection on borrower-written status event")
	}

	if err := setClaims(ctx, tx, borrowerB, "borrower"); err != nil {
		return err
	}
	if n, err := countApplications(ctx, tx); err != nil || n != 0 {
		return fmt.Errorf("expected borrower B to see 0 applications, got %d (%v)", n, err)
	}

	if err := setClaims(ctx, tx, uuid.NewString(), "loan_officer"); err != nil {
		return err
	}
	if n, err := countApplications(ctx, tx); err != nil || n < 1 {
		return fmt.Errorf("expected staff to see the application, got %d (%v)", n, err)
	}

	if err := setClaims(ctx, tx, borrowerA, "borrower"); err != nil {
		return err
	}
	var raw string
	if err := tx.QueryRow(ctx, `SELECT lending.application_summary($1::uuid)::text;`, borrowerA).Scan(&raw); err != nil {
		return fmt.Errorf("application_summary: %w", err)
	}
	var summary struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal([]byte(raw), &summary); err != nil || summary.Total != 1 {
		return fmt.Errorf("expected application_summary total=1, got %s (%v)", raw, err)
	}
	return nil
}

func setClaims(ctx context.Context, tx pgx.Tx, sub string, role string) error {
	_, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claim.sub', $1, true), set_config('request.jwt.claim.role', $2, true);`, sub, role)
	return err
}

func countApplications(ctx context.Context, tx pgx.Tx) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `SELECT count(*) FROM lending.applications;`).Scan(&n)
	return n, err
}

// inSavepoint runs fn and rolls back to a savepoint afterwards so an expected
// failure does not abort the surrounding transaction.
func inSavepoint(ctx context.Context, tx pgx.Tx, name string, fn func() error) error {
	if _, err := tx.Exec(ctx, `SAVEPOINT `+name+`;`); err != nil {
		return err
	}
	err := fn()
	if _, rbErr := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT `+name+`;`); rbErr != nil {
		return rbErr
	}
	return err
}

func pgErrorMessage(err error) (string, bool) {
	pgErr, ok := errors.AsType[*pgconn.PgError](err)
	if !ok {
		return "", false
	}
	return pgErr.Message, true
}

func tryEnsureRole(ctx context.Context, conn *pgx.Conn, role string) error {
	if !validSQLIdent(role) {
		return fmt.Errorf("invalid role: %s", role)
	}

	stmt := fmt.Sprintf(`DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%s') THEN
    EXECUTE 'CREATE ROLE %s NOBYPASSRLS';
  END IF;
END
$$;`, role, role)
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return err
	}
	for _, schema := range []string{"iam", "lending"} {
		_, _ = conn.Exec(ctx, `GRANT USAGE ON SCHEMA `+schema+` TO `+role+`;`)
		_, _ = conn.Exec(ctx, `GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA `+schema+` TO `+role+`;`)
		_, _ = conn.Exec(ctx, `GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA `+schema+` TO `+role+`;`)
		_, _ = conn.Exec(ctx, `GRANT EXECUTE ON ALL FUNCTIONS IN SCHEMA `+schema+` TO `+role+`;`)
	}
	return nil
}

func trySetRole(ctx context.Context, tx pgx.Tx, role string) bool {
	if _, err := tx.Exec(ctx, `SET ROLE `+role+`;`); err != nil {
		return false
	}
	return true
}

var reSQLIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validSQLIdent(s string) bool {
	return reSQLIdent.MatchString(s)
}
