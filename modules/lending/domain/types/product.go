package types

import "github.com/shopspring/decimal"

// Product is one financing program offered through the portal.
type Product struct {
	LoanType       LoanType        `json:"loan_type"`
	DisplayName    string          `json:"display_name"`
	Description    string          `json:"description,omitempty"`
	MinAmount      decimal.Decimal `json:"min_amount"`
	MaxAmount      decimal.Decimal `json:"max_amount"`
	MinTermMonths  int             `json:"min_term_months"`
	MaxTermMonths  int             `json:"max_term_months"`
	RequiredFields []string        `json:"required_fields"`
	Eligibility    string          `json:"-"`
}
