package server

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/jacksonlee411/loanportal/pkg/pgrest"
)

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// statementRunner executes proxy statements as the request principal. The
// claims set here are what the row-level policies read.
type statementRunner struct {
	pool txBeginner
}

// run executes each statement in one transaction and returns their JSON
// results. check sees the results before commit; an error from it rolls the
// transaction back.
func (s statementRunner) run(ctx context.Context, p Principal, check func(results []string) error, stmts ...pgrest.Statement) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claim.sub', $1, true), set_config('request.jwt.claim.role', $2, true);`, p.ID, p.Role); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(stmts))
	for _, st := range stmts {
		var body string
		if err := tx.QueryRow(ctx, st.SQL, st.Args...).Scan(&body); err != nil {
			return nil, err
		}
		out = append(out, body)
	}
	if check != nil {
		if err := check(out); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}
