package services

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/jacksonlee411/loanportal/modules/lending/domain/types"
)

type productEntry struct {
	LoanType       string   `yaml:"loan_type"`
	DisplayName    string   `yaml:"display_name"`
	Description    string   `yaml:"description"`
	MinAmount      string   `yaml:"min_amount"`
	MaxAmount      string   `yaml:"max_amount"`
	MinTermMonths  int      `yaml:"min_term_months"`
	MaxTermMonths  int      `yaml:"max_term_months"`
	RequiredFields []string `yaml:"required_fields"`
	Eligibility    string   `yaml:"eligibility"`
}

type catalogFile struct {
	Version  int            `yaml:"version"`
	Products []productEntry `yaml:"products"`
}

// Catalog holds the offered products and their compiled eligibility rules.
type Catalog struct {
	order    []types.LoanType
	products map[types.LoanType]types.Product
	programs map[types.LoanType]cel.Program
}

func newEligibilityEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("app", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
}

func compileEligibility(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.New("eligibility must evaluate to bool")
	}
	return env.Program(ast)
}

func parseAmount(raw string, field string, lt string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("lending: product %s: invalid %s %q", lt, field, raw)
	}
	return d, nil
}

func ParseCatalogYAML(b []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Version != 1 {
		return nil, errors.New("lending: unsupported catalog version")
	}
	if len(f.Products) == 0 {
		return nil, errors.New("lending: catalog has no products")
	}
	env, err := newEligibilityEnv()
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		products: make(map[types.LoanType]types.Product, len(f.Products)),
		programs: make(map[types.LoanType]cel.Program),
	}
	for _, e := range f.Products {
		lt := types.LoanType(strings.TrimSpace(e.LoanType))
		if !lt.Valid() {
			return nil, fmt.Errorf("lending: unknown loan_type %q", e.LoanType)
		}
		if _, dup := c.products[lt]; dup {
			return nil, fmt.Errorf("lending: duplicate product %s", lt)
		}
		minAmount, err := parseAmount(e.MinAmount, "min_amount", string(lt))
		if err != nil {
			return nil, err
		}
		maxAmount, err := parseAmount(e.MaxAmount, "max_amount", string(lt))
		if err != nil {
			return nil, err
		}
		if !minAmount.IsPositive() || maxAmount.LessThan(minAmount) {
			return nil, fmt.Errorf("lending: product %s: amount bounds must satisfy 0 < min <= max", lt)
		}
		if e.MinTermMonths <= 0 || e.MaxTermMonths < e.MinTermMonths {
			return nil, fmt.Errorf("lending: product %s: term bounds must satisfy 0 < min <= max", lt)
		}
		p := types.Product{
			LoanType:       lt,
			DisplayName:    strings.TrimSpace(e.DisplayName),
			Description:    strings.TrimSpace(e.Description),
			MinAmount:      minAmount,
			MaxAmount:      maxAmount,
			MinTermMonths:  e.MinTermMonths,
			MaxTermMonths:  e.MaxTermMonths,
			RequiredFields: e.RequiredFields,
			Eligibility:    strings.TrimSpace(e.Eligibility),
		}
		if p.DisplayName == "" {
			p.DisplayName = string(lt)
		}
		if p.RequiredFields == nil {
			p.RequiredFields = []string{}
		}
		if p.Eligibility != "" {
			prg, err := compileEligibility(env, p.Eligibility)
			if err != nil {
				return nil, fmt.Errorf("lending: product %s: eligibility: %w", lt, err)
			}
			c.programs[lt] = prg
		}
		c.products[lt] = p
		c.order = append(c.order, lt)
	}
	return c, nil
}

func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalogYAML(b)
}

func (c *Catalog) Product(lt types.LoanType) (types.Product, bool) {
	p, ok := c.products[lt]
	return p, ok
}

// Products returns the catalog in file order.
func (c *Catalog) Products() []types.Product {
	out := make([]types.Product, 0, len(c.order))
	for _, lt := range c.order {
		out = append(out, c.products[lt])
	}
	return out
}

// Eligible evaluates the product rule against app. Products without a rule
// accept every application.
func (c *Catalog) Eligible(app types.Application) (bool, error) {
	prg, ok := c.programs[app.LoanType]
	if !ok {
		return true, nil
	}
	out, _, err := prg.Eval(map[string]any{"app": eligibilityInput(app)})
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("eligibility did not return bool")
	}
	return v, nil
}

func eligibilityInput(app types.Application) map[string]any {
	form := app.FormData
	if form == nil {
		form = map[string]any{}
	}
	return map[string]any{
		"loan_type":     string(app.LoanType),
		"business_name": app.BusinessName,
		"amount":        app.Amount.InexactFloat64(),
		"term_months":   int64(app.TermMonths),
		"purpose":       app.Purpose,
		"form":          form,
	}
}
