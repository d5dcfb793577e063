package pgrest

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jacksonlee411/loanportal/pkg/authz"
	"github.com/jacksonlee411/loanportal/pkg/httperr"
)

type Returns string

const (
	ReturnsSet    Returns = "set"
	ReturnsSingle Returns = "single"
	ReturnsVoid   Returns = "void"
)

type Arg struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

type Function struct {
	Name       string  `yaml:"name"`
	Schema     string  `yaml:"schema"`
	Routine    string  `yaml:"routine"`
	Args       []Arg   `yaml:"args"`
	Returns    Returns `yaml:"returns"`
	Volatility string  `yaml:"volatility"`
	MinRole    string  `yaml:"min_role"`

	// BindPrincipal names an argument that is forced to the caller's id
	// unless the caller is staff.
	BindPrincipal string `yaml:"bind_principal"`

	byName map[string]Arg
}

// Stable reports whether the function may be called with GET.
func (f *Function) Stable() bool {
	return f.Volatility == "stable" || f.Volatility == "immutable"
}

func (f *Function) validate() error {
	if !identRe.MatchString(f.Name) {
		return fmt.Errorf("pgrest: invalid function name %q", f.Name)
	}
	if f.Schema == "" {
		f.Schema = "public"
	}
	if f.Routine == "" {
		f.Routine = f.Name
	}
	if !identRe.MatchString(f.Schema) || !identRe.MatchString(f.Routine) {
		return fmt.Errorf("pgrest: function %s: invalid schema or routine", f.Name)
	}
	switch f.Returns {
	case ReturnsSet, ReturnsSingle, ReturnsVoid:
	case "":
		f.Returns = ReturnsSet
	default:
		return fmt.Errorf("pgrest: function %s: unsupported returns %q", f.Name, f.Returns)
	}
	f.Volatility = strings.ToLower(strings.TrimSpace(f.Volatility))
	switch f.Volatility {
	case "":
		f.Volatility = "volatile"
	case "volatile", "stable", "immutable":
	default:
		return fmt.Errorf("pgrest: function %s: unsupported volatility %q", f.Name, f.Volatility)
	}
	if f.MinRole == "" {
		f.MinRole = authz.RoleAnonymous
	}
	if !authz.Known(f.MinRole) {
		return fmt.Errorf("pgrest: function %s: unknown min_role %q", f.Name, f.MinRole)
	}
	f.byName = make(map[string]Arg, len(f.Args))
	for i, a := range f.Args {
		a.Type = strings.ToLower(strings.TrimSpace(a.Type))
		if !identRe.MatchString(a.Name) {
			return fmt.Errorf("pgrest: function %s: invalid argument %q", f.Name, a.Name)
		}
		if !supportedTypes[a.Type] {
			return fmt.Errorf("pgrest: function %s: argument %s: unsupported type %q", f.Name, a.Name, a.Type)
		}
		if _, dup := f.byName[a.Name]; dup {
			return fmt.Errorf("pgrest: function %s: duplicate argument %s", f.Name, a.Name)
		}
		f.Args[i] = a
		f.byName[a.Name] = a
	}
	if f.BindPrincipal != "" {
		if _, ok := f.byName[f.BindPrincipal]; !ok {
			return fmt.Errorf("pgrest: function %s: bind_principal %s is not an argument", f.Name, f.BindPrincipal)
		}
	}
	return nil
}

type FunctionRegistry struct {
	fns map[string]*Function
}

type functionsFile struct {
	Version   int         `yaml:"version"`
	Functions []*Function `yaml:"functions"`
}

func NewFunctionRegistry(fns ...*Function) (*FunctionRegistry, error) {
	r := &FunctionRegistry{fns: make(map[string]*Function, len(fns))}
	for _, f := range fns {
		if f == nil {
			return nil, errors.New("pgrest: nil function")
		}
		if err := f.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.fns[f.Name]; dup {
			return nil, fmt.Errorf("pgrest: duplicate function %s", f.Name)
		}
		r.fns[f.Name] = f
	}
	return r, nil
}

func ParseFunctionsYAML(b []byte) (*FunctionRegistry, error) {
	var f functionsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Version != 1 {
		return nil, errors.New("pgrest: unsupported functions version")
	}
	return NewFunctionRegistry(f.Functions...)
}

func LoadFunctions(path string) (*FunctionRegistry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFunctionsYAML(b)
}

func (r *FunctionRegistry) Function(name string) (*Function, bool) {
	f, ok := r.fns[name]
	return f, ok
}

func (r *FunctionRegistry) Names() []string {
	out := make([]string, 0, len(r.fns))
	for k := range r.fns {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// ArgsFromQuery collects GET call arguments. A repeated key keeps its last
// value.
func ArgsFromQuery(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = last(v)
	}
	return out
}

// BuildCall renders a call of fn using named argument notation. Arguments are
// emitted in declaration order.
func BuildCall(fn *Function, args map[string]any, caller Caller) (Statement, error) {
	for _, k := range sortedKeys(args) {
		if _, ok := fn.byName[k]; !ok {
			return Statement{}, httperr.NewBadRequestCode("unknown_argument", "unknown argument "+k+" for "+fn.Name)
		}
	}
	if fn.BindPrincipal != "" {
		_, given := args[fn.BindPrincipal]
		if !authz.IsStaff(caller.Role) || !given {
			if strings.TrimSpace(caller.ID) == "" {
				return Statement{}, httperr.NewForbidden("function " + fn.Name + " requires an authenticated caller")
			}
			bound := make(map[string]any, len(args)+1)
			for k, v := range args {
				bound[k] = v
			}
			bound[fn.BindPrincipal] = caller.ID
			args = bound
		}
	}

	b := &sqlBuilder{}
	var named []string
	for _, a := range fn.Args {
		v, ok := args[a.Name]
		if !ok {
			if a.Required {
				return Statement{}, httperr.NewBadRequestCode("missing_argument", "missing argument "+a.Name+" for "+fn.Name)
			}
			continue
		}
		pv, err := paramValue(v, a.Type)
		if err != nil {
			return Statement{}, httperr.NewBadRequestCode("invalid_input", "argument "+a.Name+": "+err.Error())
		}
		named = append(named, quoteIdent(a.Name)+" => "+castParam(b.bind(pv), a.Type))
	}
	call := quoteIdent(fn.Schema) + "." + quoteIdent(fn.Routine) + "(" + strings.Join(named, ", ") + ")"

	var sql string
	switch fn.Returns {
	case ReturnsSingle:
		sql = "SELECT to_json(" + call + ")::text"
	case ReturnsVoid:
		sql = "SELECT 'null'::text FROM " + call
	default:
		sql = "SELECT coalesce(json_agg(_r), '[]'::json)::text FROM " + call + " _r"
	}
	return Statement{SQL: sql, Args: b.args}, nil
}

// DecodeArgs reads a POST call body. An empty body means no arguments.
func DecodeArgs(body []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]any{}, nil
	}
	rows, err := DecodeRows(body)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 || strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		return nil, httperr.NewBadRequestCode("invalid_json", "call arguments must be a JSON object")
	}
	return rows[0], nil
}
