package pgrest

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// supportedTypes are the column types a registry may declare. Literal values
// are bound as text and cast to the declared type inside the statement.
var supportedTypes = map[string]bool{
	"text":        true,
	"uuid":        true,
	"integer":     true,
	"bigint":      true,
	"numeric":     true,
	"boolean":     true,
	"date":        true,
	"timestamptz": true,
	"jsonb":       true,
	"text[]":      true,
}

type Column struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// RowGuard limits which rows UPDATE and DELETE may touch, by the value
// Column currently holds. An empty Delete list forbids DELETE outright.
type RowGuard struct {
	Column string   `yaml:"column"`
	Update []string `yaml:"update"`
	Delete []string `yaml:"delete"`
}

type Table struct {
	Name         string    `yaml:"name"`
	Schema       string    `yaml:"schema"`
	Relation     string    `yaml:"relation"`
	PrimaryKey   []string  `yaml:"primary_key"`
	OwnerColumn  string    `yaml:"owner_column"`
	StaffMinRole string    `yaml:"staff_min_role"`
	ReadOnly     []string  `yaml:"read_only"`
	MutableWhen  *RowGuard `yaml:"mutable_when"`
	Columns      []Column  `yaml:"columns"`

	byName map[string]Column
}

func (t *Table) Column(name string) (Column, bool) {
	c, ok := t.byName[name]
	return c, ok
}

func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

func (t *Table) IsReadOnly(column string) bool {
	return slices.Contains(t.ReadOnly, column)
}

func (t *Table) qualified() string {
	return quoteIdent(t.Schema) + "." + quoteIdent(t.Relation)
}

func (t *Table) validate() error {
	if !identRe.MatchString(t.Name) {
		return fmt.Errorf("pgrest: invalid table name %q", t.Name)
	}
	if t.Schema == "" {
		t.Schema = "public"
	}
	if t.Relation == "" {
		t.Relation = t.Name
	}
	if !identRe.MatchString(t.Schema) || !identRe.MatchString(t.Relation) {
		return fmt.Errorf("pgrest: table %s: invalid schema or relation", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("pgrest: table %s: no columns", t.Name)
	}
	t.byName = make(map[string]Column, len(t.Columns))
	for i, c := range t.Columns {
		c.Type = strings.ToLower(strings.TrimSpace(c.Type))
		if !identRe.MatchString(c.Name) {
			return fmt.Errorf("pgrest: table %s: invalid column %q", t.Name, c.Name)
		}
		if !supportedTypes[c.Type] {
			return fmt.Errorf("pgrest: table %s: column %s: unsupported type %q", t.Name, c.Name, c.Type)
		}
		if _, dup := t.byName[c.Name]; dup {
			return fmt.Errorf("pgrest: table %s: duplicate column %s", t.Name, c.Name)
		}
		t.Columns[i] = c
		t.byName[c.Name] = c
	}
	for _, pk := range t.PrimaryKey {
		if _, ok := t.byName[pk]; !ok {
			return fmt.Errorf("pgrest: table %s: primary key column %s not declared", t.Name, pk)
		}
	}
	if t.OwnerColumn != "" {
		if _, ok := t.byName[t.OwnerColumn]; !ok {
			return fmt.Errorf("pgrest: table %s: owner column %s not declared", t.Name, t.OwnerColumn)
		}
	}
	for _, ro := range t.ReadOnly {
		if _, ok := t.byName[ro]; !ok {
			return fmt.Errorf("pgrest: table %s: read-only column %s not declared", t.Name, ro)
		}
	}
	if g := t.MutableWhen; g != nil {
		c, ok := t.byName[g.Column]
		if !ok {
			return fmt.Errorf("pgrest: table %s: guard column %s not declared", t.Name, g.Column)
		}
		if c.Type != "text" {
			return fmt.Errorf("pgrest: table %s: guard column %s must be text", t.Name, g.Column)
		}
		// A writable guard column would let a PATCH move a row out of its own guard.
		if !t.IsReadOnly(g.Column) {
			return fmt.Errorf("pgrest: table %s: guard column %s must be read-only", t.Name, g.Column)
		}
		if len(g.Update) == 0 {
			return fmt.Errorf("pgrest: table %s: guard column %s lists no updatable values", t.Name, g.Column)
		}
	}
	return nil
}

const defaultMaxRows = 1000

type Registry struct {
	tables  map[string]*Table
	maxRows int
}

type registryFile struct {
	Version int      `yaml:"version"`
	MaxRows int      `yaml:"max_rows"`
	Tables  []*Table `yaml:"tables"`
}

func NewRegistry(tables ...*Table) (*Registry, error) {
	r := &Registry{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		if t == nil {
			return nil, errors.New("pgrest: nil table")
		}
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.tables[t.Name]; dup {
			return nil, fmt.Errorf("pgrest: duplicate table %s", t.Name)
		}
		r.tables[t.Name] = t
	}
	return r, nil
}

func ParseRegistryYAML(b []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Version != 1 {
		return nil, errors.New("pgrest: unsupported registry version")
	}
	if len(f.Tables) == 0 {
		return nil, errors.New("pgrest: registry has no tables")
	}
	r, err := NewRegistry(f.Tables...)
	if err != nil {
		return nil, err
	}
	if f.MaxRows < 0 {
		return nil, errors.New("pgrest: max_rows must not be negative")
	}
	r.maxRows = f.MaxRows
	return r, nil
}

func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRegistryYAML(b)
}

func (r *Registry) Table(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// MaxRows caps the rows a single read returns.
func (r *Registry) MaxRows() int {
	if r.maxRows <= 0 {
		return defaultMaxRows
	}
	return r.maxRows
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tables))
	for k := range r.tables {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
