package pgrest

import (
	"strings"

	"github.com/jacksonlee411/loanportal/pkg/httperr"
)

type Operator string

const (
	OpEq    Operator = "eq"
	OpNeq   Operator = "neq"
	OpGt    Operator = "gt"
	OpGte   Operator = "gte"
	OpLt    Operator = "lt"
	OpLte   Operator = "lte"
	OpLike  Operator = "like"
	OpILike Operator = "ilike"
	OpIn    Operator = "in"
	OpIs    Operator = "is"
)

var operators = map[string]Operator{
	"eq":    OpEq,
	"neq":   OpNeq,
	"gt":    OpGt,
	"gte":   OpGte,
	"lt":    OpLt,
	"lte":   OpLte,
	"like":  OpLike,
	"ilike": OpILike,
	"in":    OpIn,
	"is":    OpIs,
}

// Filter is a node of the WHERE tree: either a *Condition or a *Group.
type Filter interface {
	isFilter()
}

type Condition struct {
	Column string
	Op     Operator
	Value  string
	Values []string
	Negate bool
}

type Group struct {
	Or       bool
	Negate   bool
	Children []Filter
}

func (*Condition) isFilter() {}
func (*Group) isFilter()     {}

func badFilter(msg string) error {
	return httperr.NewBadRequestCode("invalid_filter", msg)
}

// parseCondition parses "[not.]op.value" for column.
func parseCondition(column string, raw string) (*Condition, error) {
	c := &Condition{Column: column}
	if rest, ok := strings.CutPrefix(raw, "not."); ok {
		c.Negate = true
		raw = rest
	}
	opName, operand, ok := strings.Cut(raw, ".")
	if !ok {
		return nil, badFilter("filter on " + column + " must be op.value")
	}
	op, known := operators[opName]
	if !known {
		return nil, badFilter("unknown operator " + opName)
	}
	c.Op = op

	switch op {
	case OpIs:
		switch strings.ToLower(operand) {
		case "null", "true", "false":
			c.Value = strings.ToLower(operand)
		default:
			return nil, badFilter("is. accepts null, true or false")
		}
	case OpIn:
		items, err := parseList(operand)
		if err != nil {
			return nil, err
		}
		c.Values = items
	case OpLike, OpILike:
		c.Value = strings.ReplaceAll(operand, "*", "%")
	default:
		c.Value = operand
	}
	return c, nil
}

// parseList parses "(a,b,"c,d")" into its items.
func parseList(raw string) ([]string, error) {
	if len(raw) < 2 || raw[0] != '(' || raw[len(raw)-1] != ')' {
		return nil, badFilter("in. expects a parenthesised list")
	}
	inner := raw[1 : len(raw)-1]
	if strings.TrimSpace(inner) == "" {
		return []string{}, nil
	}
	parts, err := splitTopLevel(inner)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, unquote(strings.TrimSpace(p)))
	}
	return out, nil
}

// parseLogic parses the value of an or=/and= parameter, "(item,item,...)".
func parseLogic(or bool, negate bool, raw string) (*Group, error) {
	if len(raw) < 2 || raw[0] != '(' || raw[len(raw)-1] != ')' {
		return nil, badFilter("logic tree must be parenthesised")
	}
	g := &Group{Or: or, Negate: negate}
	inner := raw[1 : len(raw)-1]
	if strings.TrimSpace(inner) == "" {
		return nil, badFilter("empty logic tree")
	}
	items, err := splitTopLevel(inner)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		item = strings.TrimSpace(item)
		child, err := parseLogicItem(item)
		if err != nil {
			return nil, err
		}
		g.Children = append(g.Children, child)
	}
	return g, nil
}

func parseLogicItem(item string) (Filter, error) {
	negate := false
	rest := item
	if r, ok := strings.CutPrefix(rest, "not."); ok {
		negate = true
		rest = r
	}
	if r, ok := strings.CutPrefix(rest, "and("); ok {
		return parseLogic(false, negate, "("+r)
	}
	if r, ok := strings.CutPrefix(rest, "or("); ok {
		return parseLogic(true, negate, "("+r)
	}
	column, cond, ok := strings.Cut(item, ".")
	if !ok || column == "" {
		return nil, badFilter("logic item must be column.op.value")
	}
	return parseCondition(column, cond)
}

// splitTopLevel splits on commas outside parentheses and double quotes.
func splitTopLevel(s string) ([]string, error) {
	var out []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\\' && inQuote:
			i++
		case ch == '"':
			inQuote = !inQuote
		case inQuote:
		case ch == '(':
			depth++
		case ch == ')':
			depth--
			if depth < 0 {
				return nil, badFilter("unbalanced parentheses")
			}
		case ch == ',' && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if depth != 0 || inQuote {
		return nil, badFilter("unbalanced parentheses or quotes")
	}
	return append(out, s[start:]), nil
}

func unquote(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	s = s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func walkConditions(f Filter, fn func(*Condition) error) error {
	switch n := f.(type) {
	case *Condition:
		return fn(n)
	case *Group:
		for _, c := range n.Children {
			if err := walkConditions(c, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
