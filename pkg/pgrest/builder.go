package pgrest

import (
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jacksonlee411/loanportal/pkg/authz"
	"github.com/jacksonlee411/loanportal/pkg/httperr"
)

// Statement is one parameterised SQL statement. Every statement the builder
// produces yields a single text column holding a JSON document.
type Statement struct {
	SQL  string
	Args []any
}

// Caller identifies who a statement runs for. Owner scoping uses it.
type Caller struct {
	ID   string
	Role string
}

type ReadOptions struct {
	Caller  Caller
	MaxRows int
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// castParam renders placeholder p for a column of type typ. Values travel as
// text and Postgres performs the conversion, so malformed input surfaces as
// SQLSTATE 22P02 rather than a driver encode error.
func castParam(p string, typ string) string {
	if typ == "text" {
		return p
	}
	return p + "::text::" + typ
}

func castArrayParam(p string, typ string) string {
	if typ == "text" {
		return p + "::text[]"
	}
	return p + "::text[]::" + typ + "[]"
}

type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *sqlBuilder) condition(t *Table, c *Condition, prefix string) (string, error) {
	col, _ := t.Column(c.Column)
	ident := prefix + quoteIdent(col.Name)
	var expr string
	switch c.Op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		expr = ident + " " + comparison[c.Op] + " " + castParam(b.bind(c.Value), col.Type)
	case OpLike, OpILike:
		lhs := ident
		if col.Type != "text" {
			lhs += "::text"
		}
		kw := "LIKE"
		if c.Op == OpILike {
			kw = "ILIKE"
		}
		expr = lhs + " " + kw + " " + b.bind(c.Value)
	case OpIn:
		if strings.HasSuffix(col.Type, "[]") {
			return "", badFilter("in. is not supported on array column " + col.Name)
		}
		if len(c.Values) == 0 {
			expr = "false"
		} else {
			expr = ident + " = ANY(" + castArrayParam(b.bind(c.Values), col.Type) + ")"
		}
	case OpIs:
		expr = ident + " IS " + strings.ToUpper(c.Value)
	default:
		return "", badFilter("unknown operator " + string(c.Op))
	}
	if c.Negate {
		expr = "NOT (" + expr + ")"
	}
	return expr, nil
}

var comparison = map[Operator]string{
	OpEq:  "=",
	OpNeq: "<>",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

func (b *sqlBuilder) filter(t *Table, f Filter, prefix string) (string, error) {
	switch n := f.(type) {
	case *Condition:
		return b.condition(t, n, prefix)
	case *Group:
		parts := make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			s, err := b.filter(t, child, prefix)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		joiner := " AND "
		if n.Or {
			joiner = " OR "
		}
		expr := "(" + strings.Join(parts, joiner) + ")"
		if n.Negate {
			expr = "NOT " + expr
		}
		return expr, nil
	}
	return "", badFilter("unsupported filter node")
}

// where renders the filter tree plus the owner predicate. It returns "" when
// there is nothing to filter on.
func (b *sqlBuilder) where(q Query, caller Caller) (string, error) {
	var parts []string
	for _, f := range q.Where {
		s, err := b.filter(q.Table, f, "")
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	scoped, err := ownerScoped(q.Table, caller)
	if err != nil {
		return "", err
	}
	if scoped {
		parts = append(parts, b.ownerPredicate(q.Table, caller, ""))
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func (b *sqlBuilder) ownerPredicate(t *Table, caller Caller, prefix string) string {
	col, _ := t.Column(t.OwnerColumn)
	return prefix + quoteIdent(col.Name) + " = " + castParam(b.bind(caller.ID), col.Type)
}

// guardPredicate restricts a mutation to rows whose guard column holds one of
// values. It returns "" for tables without a guard.
func (b *sqlBuilder) guardPredicate(t *Table, values []string, prefix string) string {
	if t.MutableWhen == nil {
		return ""
	}
	return prefix + quoteIdent(t.MutableWhen.Column) + " = ANY(" + castArrayParam(b.bind(values), "text") + ")"
}

// ownerScoped reports whether rows of t are restricted to the caller's own.
func ownerScoped(t *Table, caller Caller) (bool, error) {
	if t.OwnerColumn == "" {
		return false, nil
	}
	minRole := t.StaffMinRole
	if minRole == "" {
		minRole = authz.RoleLoanOfficer
	}
	if authz.AtLeast(caller.Role, minRole) {
		return false, nil
	}
	if strings.TrimSpace(caller.ID) == "" {
		return false, httperr.NewForbidden("table " + t.Name + " requires an authenticated caller")
	}
	return true, nil
}

func selectList(t *Table, items []SelectItem) string {
	if len(items) == 0 {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = quoteIdent(c.Name)
		}
		return strings.Join(cols, ", ")
	}
	cols := make([]string, len(items))
	for i, it := range items {
		expr := quoteIdent(it.Column)
		alias := it.Alias
		if it.Cast != "" {
			expr += "::" + it.Cast
			if alias == "" {
				alias = it.Column
			}
		}
		if alias != "" {
			expr += " AS " + quoteIdent(alias)
		}
		cols[i] = expr
	}
	return strings.Join(cols, ", ")
}

func orderClause(terms []OrderTerm) string {
	if len(terms) == 0 {
		return ""
	}
	parts := make([]string, len(terms))
	for i, term := range terms {
		s := quoteIdent(term.Column)
		if term.Desc {
			s += " DESC"
		} else {
			s += " ASC"
		}
		if term.NullsFirst != nil {
			if *term.NullsFirst {
				s += " NULLS FIRST"
			} else {
				s += " NULLS LAST"
			}
		}
		parts[i] = s
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func jsonAgg(inner string) string {
	return "SELECT coalesce(json_agg(_r), '[]'::json)::text FROM (" + inner + ") _r"
}

// BuildSelect renders a read of q as a JSON array of rows.
func BuildSelect(q Query, opts ReadOptions) (Statement, error) {
	b := &sqlBuilder{}
	where, err := b.where(q, opts.Caller)
	if err != nil {
		return Statement{}, err
	}
	limit := q.Limit
	if opts.MaxRows > 0 && (limit < 0 || limit > opts.MaxRows) {
		limit = opts.MaxRows
	}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(selectList(q.Table, q.Select))
	sb.WriteString(" FROM ")
	sb.WriteString(q.Table.qualified())
	sb.WriteString(where)
	sb.WriteString(orderClause(q.Order))
	if limit >= 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(limit))
	}
	if q.Offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(q.Offset))
	}
	return Statement{SQL: jsonAgg(sb.String()), Args: b.args}, nil
}

// BuildCount counts the rows q would match, ignoring limit and offset.
func BuildCount(q Query, opts ReadOptions) (Statement, error) {
	b := &sqlBuilder{}
	where, err := b.where(q, opts.Caller)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "SELECT count(*)::text FROM " + q.Table.qualified() + where, Args: b.args}, nil
}
