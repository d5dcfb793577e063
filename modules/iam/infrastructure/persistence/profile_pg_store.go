package persistence

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jacksonlee411/loanportal/modules/iam/domain/ports"
	"github.com/jacksonlee411/loanportal/modules/iam/domain/types"
	"github.com/jacksonlee411/loanportal/pkg/pgerr"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type ProfilePGStore struct {
	pool pgBeginner
}

func NewProfilePGStore(pool pgBeginner) *ProfilePGStore {
	return &ProfilePGStore{pool: pool}
}

var _ ports.ProfileAdminStore = (*ProfilePGStore)(nil)

const profileColumns = `id::text, email, full_name, role, status, created_at`

func (s *ProfilePGStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claim.role', 'service', true);`); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanProfile(row pgx.Row) (types.Profile, error) {
	var p types.Profile
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.Status, &p.CreatedAt); err != nil {
		// 22P02: the id is not a uuid, so no profile can match it.
		if errors.Is(err, pgx.ErrNoRows) || pgerr.Code(err) == "22P02" {
			return types.Profile{}, ports.ErrProfileNotFound
		}
		return types.Profile{}, err
	}
	return p, nil
}

func (s *ProfilePGStore) GetProfile(ctx context.Context, id string) (types.Profile, error) {
	var out types.Profile
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := scanProfile(tx.QueryRow(ctx, `
SELECT `+profileColumns+`
FROM iam.profiles
WHERE id = $1::uuid
`, strings.TrimSpace(id)))
		out = p
		return err
	})
	return out, err
}

func (s *ProfilePGStore) EnsureProfile(ctx context.Context, p types.Profile) (types.Profile, error) {
	var out types.Profile
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO iam.profiles (id, email, full_name, role, status)
VALUES ($1::uuid, $2, $3, $4, 'active')
ON CONFLICT (id) DO NOTHING
`, p.ID, strings.TrimSpace(p.Email), strings.TrimSpace(p.FullName), p.Role); err != nil {
			return err
		}
		got, err := scanProfile(tx.QueryRow(ctx, `
SELECT `+profileColumns+`
FROM iam.profiles
WHERE id = $1::uuid
`, p.ID))
		out = got
		return err
	})
	return out, err
}

func listProfilesQuery(f types.ProfileFilter) (string, []any) {
	var conds []string
	var args []any
	bind := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Role != "" {
		conds = append(conds, "role = "+bind(f.Role))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+bind(f.Status))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		p := bind("%" + likeEscaper.Replace(q) + "%")
		conds = append(conds, "(email ILIKE "+p+` ESCAPE '\' OR full_name ILIKE `+p+` ESCAPE '\')`)
	}

	var b strings.Builder
	b.WriteString("SELECT " + profileColumns + "\nFROM iam.profiles")
	if len(conds) > 0 {
		b.WriteString("\nWHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString("\nORDER BY created_at DESC, id")
	if f.Limit > 0 {
		b.WriteString("\nLIMIT " + bind(f.Limit))
	}
	if f.Offset > 0 {
		b.WriteString("\nOFFSET " + bind(f.Offset))
	}
	return b.String(), args
}

// likeEscaper makes a search term match literally under ESCAPE '\'.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *ProfilePGStore) ListProfiles(ctx context.Context, f types.ProfileFilter) ([]types.Profile, error) {
	query, args := listProfilesQuery(f)
	out := []types.Profile{}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProfile(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

func (s *ProfilePGStore) UpdateAccess(ctx context.Context, id string, role string, status string) (types.Profile, error) {
	var out types.Profile
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := scanProfile(tx.QueryRow(ctx, `
UPDATE iam.profiles
SET role = $2, status = $3
WHERE id = $1::uuid
RETURNING `+profileColumns, strings.TrimSpace(id), role, status))
		out = p
		return err
	})
	return out, err
}
