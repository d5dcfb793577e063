package pgrest

import (
	"bytes"
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/jacksonlee411/loanportal/pkg/httperr"
)

// Row is one decoded JSON object from a request body.
type Row map[string]any

type WriteOptions struct {
	Caller Caller
	Prefer Prefer
}

// DecodeRows accepts a JSON object or an array of objects. Numbers are kept
// as json.Number so their exact text reaches Postgres.
func DecodeRows(body []byte) ([]Row, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, httperr.NewBadRequestCode("empty_body", "request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if body[0] == '[' {
		var rows []Row
		if err := dec.Decode(&rows); err != nil {
			return nil, httperr.NewBadRequestCode("invalid_json", "body must be a JSON object or array of objects")
		}
		for _, r := range rows {
			if r == nil {
				return nil, httperr.NewBadRequestCode("invalid_json", "array items must be objects")
			}
		}
		return rows, nil
	}
	var row Row
	if err := dec.Decode(&row); err != nil || row == nil {
		return nil, httperr.NewBadRequestCode("invalid_json", "body must be a JSON object or array of objects")
	}
	return []Row{row}, nil
}

// paramValue converts a decoded JSON value to the text form bound for a
// column of type typ. nil stays nil and binds NULL.
func paramValue(v any, typ string) (any, error) {
	if typ == "jsonb" && v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case []any:
		if typ == "text[]" {
			return arrayLiteral(x)
		}
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

func arrayLiteral(items []any) (string, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, it := range items {
		if i > 0 {
			sb.WriteByte(',')
		}
		if it == nil {
			sb.WriteString("NULL")
			continue
		}
		s, err := paramValue(it, "text")
		if err != nil {
			return "", err
		}
		str, _ := s.(string)
		sb.WriteByte('"')
		sb.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(str))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String(), nil
}

func readOnlyColumn(name string) error {
	return httperr.NewBadRequestCode("read_only_column", "column "+name+" is read-only")
}

// checkWritable rejects unknown columns and columns the caller may not set.
// Read-only columns are closed to every role; services own them.
func checkWritable(t *Table, scoped bool, name string) error {
	if _, ok := t.Column(name); !ok {
		return unknownColumn(name)
	}
	if t.IsReadOnly(name) || (scoped && name == t.OwnerColumn) {
		return readOnlyColumn(name)
	}
	return nil
}

func mutationResult(cte string, returning string) string {
	return "WITH _w AS (" + cte + " RETURNING " + returning + ") SELECT coalesce(json_agg(_w), '[]'::json)::text FROM _w"
}

// BuildInsert renders an INSERT of rows into q.Table. A column present in
// some rows but not others takes its DEFAULT where absent.
func BuildInsert(q Query, rows []Row, opts WriteOptions) (Statement, error) {
	t := q.Table
	if len(rows) == 0 {
		return Statement{}, httperr.NewBadRequestCode("empty_body", "at least one row is required")
	}
	scoped, err := ownerScoped(t, opts.Caller)
	if err != nil {
		return Statement{}, err
	}

	present := map[string]bool{}
	if len(q.Columns) > 0 {
		for _, c := range q.Columns {
			present[c] = true
		}
	} else {
		for _, row := range rows {
			for k := range row {
				present[k] = true
			}
		}
	}
	for _, k := range sortedKeys(present) {
		if err := checkWritable(t, scoped, k); err != nil {
			return Statement{}, err
		}
	}
	if scoped {
		present[t.OwnerColumn] = true
	}
	var cols []Column
	for _, c := range t.Columns {
		if present[c.Name] {
			cols = append(cols, c)
		}
	}

	b := &sqlBuilder{}
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(t.qualified())
	sb.WriteString(" AS _t")
	if len(cols) == 0 {
		if len(rows) > 1 {
			return Statement{}, httperr.NewBadRequestCode("empty_body", "rows carry no columns")
		}
		sb.WriteString(" DEFAULT VALUES")
	} else {
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = quoteIdent(c.Name)
		}
		sb.WriteString(" (" + strings.Join(names, ", ") + ") VALUES ")
		for ri, row := range rows {
			if ri > 0 {
				sb.WriteString(", ")
			}
			vals := make([]string, len(cols))
			for ci, c := range cols {
				if scoped && c.Name == t.OwnerColumn {
					vals[ci] = castParam(b.bind(opts.Caller.ID), c.Type)
					continue
				}
				v, ok := row[c.Name]
				if !ok {
					vals[ci] = "DEFAULT"
					continue
				}
				pv, err := paramValue(v, c.Type)
				if err != nil {
					return Statement{}, httperr.NewBadRequestCode("invalid_input", "column "+c.Name+": "+err.Error())
				}
				vals[ci] = castParam(b.bind(pv), c.Type)
			}
			sb.WriteString("(" + strings.Join(vals, ", ") + ")")
		}
	}

	if opts.Prefer.Resolution != ResolutionNone {
		target := q.OnConflict
		if len(target) == 0 {
			target = t.PrimaryKey
		}
		if len(target) == 0 {
			return Statement{}, httperr.NewBadRequestCode("missing_on_conflict", "upsert needs on_conflict or a primary key")
		}
		quoted := make([]string, len(target))
		for i, c := range target {
			quoted[i] = quoteIdent(c)
		}
		sb.WriteString(" ON CONFLICT (" + strings.Join(quoted, ", ") + ")")

		var sets []string
		if opts.Prefer.Resolution == ResolutionMergeDuplicates {
			for _, c := range cols {
				if slices.Contains(target, c.Name) {
					continue
				}
				sets = append(sets, quoteIdent(c.Name)+" = EXCLUDED."+quoteIdent(c.Name))
			}
		}
		if len(sets) == 0 {
			sb.WriteString(" DO NOTHING")
		} else {
			sb.WriteString(" DO UPDATE SET " + strings.Join(sets, ", "))
			var conds []string
			if scoped {
				conds = append(conds, b.ownerPredicate(t, opts.Caller, "_t."))
			}
			if t.MutableWhen != nil {
				conds = append(conds, b.guardPredicate(t, t.MutableWhen.Update, "_t."))
			}
			if len(conds) > 0 {
				sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
			}
		}
	}

	return Statement{SQL: mutationResult(sb.String(), selectList(t, q.Select)), Args: b.args}, nil
}

// BuildUpdate renders an UPDATE of the rows q matches. q must carry at least
// one filter.
func BuildUpdate(q Query, patch Row, opts WriteOptions) (Statement, error) {
	t := q.Table
	if !q.HasFilters() {
		return Statement{}, unfilteredMutation()
	}
	if len(patch) == 0 {
		return Statement{}, httperr.NewBadRequestCode("empty_body", "patch body carries no columns")
	}
	scoped, err := ownerScoped(t, opts.Caller)
	if err != nil {
		return Statement{}, err
	}
	for _, k := range sortedKeys(patch) {
		if err := checkWritable(t, scoped, k); err != nil {
			return Statement{}, err
		}
	}

	b := &sqlBuilder{}
	var sets []string
	for _, c := range t.Columns {
		v, ok := patch[c.Name]
		if !ok {
			continue
		}
		pv, err := paramValue(v, c.Type)
		if err != nil {
			return Statement{}, httperr.NewBadRequestCode("invalid_input", "column "+c.Name+": "+err.Error())
		}
		sets = append(sets, quoteIdent(c.Name)+" = "+castParam(b.bind(pv), c.Type))
	}
	where, err := b.where(q, opts.Caller)
	if err != nil {
		return Statement{}, err
	}
	if t.MutableWhen != nil {
		where += " AND " + b.guardPredicate(t, t.MutableWhen.Update, "")
	}
	cte := "UPDATE " + t.qualified() + " SET " + strings.Join(sets, ", ") + where
	return Statement{SQL: mutationResult(cte, selectList(t, q.Select)), Args: b.args}, nil
}

// BuildDelete renders a DELETE of the rows q matches. q must carry at least
// one filter.
func BuildDelete(q Query, opts WriteOptions) (Statement, error) {
	t := q.Table
	if !q.HasFilters() {
		return Statement{}, unfilteredMutation()
	}
	if t.MutableWhen != nil && len(t.MutableWhen.Delete) == 0 {
		return Statement{}, httperr.NewForbidden("rows of " + t.Name + " cannot be deleted")
	}
	b := &sqlBuilder{}
	where, err := b.where(q, opts.Caller)
	if err != nil {
		return Statement{}, err
	}
	if t.MutableWhen != nil {
		where += " AND " + b.guardPredicate(t, t.MutableWhen.Delete, "")
	}
	cte := "DELETE FROM " + t.qualified() + where
	return Statement{SQL: mutationResult(cte, selectList(q.Table, q.Select)), Args: b.args}, nil
}

func unfilteredMutation() error {
	return httperr.NewBadRequestCode("unfiltered_mutation", "PATCH and DELETE require at least one filter")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
