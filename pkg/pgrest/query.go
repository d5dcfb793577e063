package pgrest

import (
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/jacksonlee411/loanportal/pkg/httperr"
)

var castTypes = map[string]bool{
	"text":    true,
	"integer": true,
	"bigint":  true,
	"numeric": true,
	"date":    true,
	"boolean": true,
	"jsonb":   true,
}

var rangeRe = regexp.MustCompile(`^(?:items=)?(\d+)-(\d*)$`)

type SelectItem struct {
	Column string
	Alias  string
	Cast   string
}

type OrderTerm struct {
	Column     string
	Desc       bool
	NullsFirst *bool
}

type Query struct {
	Table  *Table
	Select []SelectItem
	Where  []Filter
	Order  []OrderTerm

	// Limit is -1 when the caller did not ask for one.
	Limit  int
	Offset int

	Columns    []string
	OnConflict []string
}

// ParseQuery turns PostgREST-style query parameters into a Query against t.
// Every referenced column must be declared on t.
func ParseQuery(t *Table, values url.Values) (Query, error) {
	q := Query{Table: t, Limit: -1}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		vals := values[key]
		switch {
		case key == "select":
			items, err := parseSelect(t, last(vals))
			if err != nil {
				return Query{}, err
			}
			q.Select = items
		case key == "order":
			terms, err := parseOrder(t, last(vals))
			if err != nil {
				return Query{}, err
			}
			q.Order = terms
		case key == "limit":
			n, err := parseNonNegative("limit", last(vals))
			if err != nil {
				return Query{}, err
			}
			q.Limit = n
		case key == "offset":
			n, err := parseNonNegative("offset", last(vals))
			if err != nil {
				return Query{}, err
			}
			q.Offset = n
		case key == "on_conflict":
			cols, err := parseColumnList(t, last(vals))
			if err != nil {
				return Query{}, err
			}
			q.OnConflict = cols
		case key == "columns":
			cols, err := parseColumnList(t, last(vals))
			if err != nil {
				return Query{}, err
			}
			q.Columns = cols
		case key == "or" || key == "and" || key == "not.or" || key == "not.and":
			negate := strings.HasPrefix(key, "not.")
			or := strings.HasSuffix(key, "or")
			for _, v := range vals {
				g, err := parseLogic(or, negate, v)
				if err != nil {
					return Query{}, err
				}
				q.Where = append(q.Where, g)
			}
		default:
			for _, v := range vals {
				c, err := parseCondition(key, v)
				if err != nil {
					return Query{}, err
				}
				q.Where = append(q.Where, c)
			}
		}
	}

	for _, f := range q.Where {
		if err := walkConditions(f, func(c *Condition) error {
			if _, ok := t.Column(c.Column); !ok {
				return unknownColumn(c.Column)
			}
			return nil
		}); err != nil {
			return Query{}, err
		}
	}
	return q, nil
}

// ApplyRange applies a Range header ("0-24" or "items=0-24") to q.
func (q *Query) ApplyRange(header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	m := rangeRe.FindStringSubmatch(header)
	if m == nil {
		return httperr.NewBadRequestCode("invalid_range", "invalid Range header")
	}
	from, _ := strconv.Atoi(m[1])
	q.Offset = from
	if m[2] == "" {
		return nil
	}
	to, _ := strconv.Atoi(m[2])
	if to < from {
		return httperr.NewBadRequestCode("invalid_range", "invalid Range header")
	}
	q.Limit = to - from + 1
	return nil
}

func (q *Query) HasFilters() bool { return len(q.Where) > 0 }

func parseSelect(t *Table, raw string) ([]SelectItem, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return nil, nil
	}
	var out []SelectItem
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, httperr.NewBadRequestCode("invalid_select", "empty select item")
		}
		if part == "*" {
			for _, c := range t.Columns {
				out = append(out, SelectItem{Column: c.Name})
			}
			continue
		}
		if strings.ContainsAny(part, "()") {
			return nil, httperr.NewBadRequestCode("embedding_unsupported", "resource embedding is not supported")
		}
		item := SelectItem{}
		if alias, rest, ok := strings.Cut(part, ":"); ok && !strings.HasPrefix(rest, ":") {
			item.Alias = alias
			part = rest
		}
		if col, cast, ok := strings.Cut(part, "::"); ok {
			cast = strings.ToLower(cast)
			if !castTypes[cast] {
				return nil, httperr.NewBadRequestCode("invalid_select", "unsupported cast "+cast)
			}
			item.Cast = cast
			part = col
		}
		if _, ok := t.Column(part); !ok {
			return nil, unknownColumn(part)
		}
		if item.Alias != "" && !identRe.MatchString(item.Alias) {
			return nil, httperr.NewBadRequestCode("invalid_select", "invalid alias "+item.Alias)
		}
		item.Column = part
		out = append(out, item)
	}
	return out, nil
}

func parseOrder(t *Table, raw string) ([]OrderTerm, error) {
	var out []OrderTerm
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segs := strings.Split(part, ".")
		term := OrderTerm{Column: segs[0]}
		if _, ok := t.Column(term.Column); !ok {
			return nil, unknownColumn(term.Column)
		}
		for _, s := range segs[1:] {
			switch s {
			case "asc":
				term.Desc = false
			case "desc":
				term.Desc = true
			case "nullsfirst":
				v := true
				term.NullsFirst = &v
			case "nullslast":
				v := false
				term.NullsFirst = &v
			default:
				return nil, httperr.NewBadRequestCode("invalid_order", "invalid order modifier "+s)
			}
		}
		out = append(out, term)
	}
	return out, nil
}

func parseColumnList(t *Table, raw string) ([]string, error) {
	var out []string
	for _, c := range strings.Split(raw, ",") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := t.Column(c); !ok {
			return nil, unknownColumn(c)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseNonNegative(name string, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, httperr.NewBadRequestCode("invalid_"+name, name+" must be a non-negative integer")
	}
	return n, nil
}

func unknownColumn(name string) error {
	return httperr.NewBadRequestCode("unknown_column", "unknown column "+name)
}

func last(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}
