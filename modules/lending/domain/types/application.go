package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanType string

const (
	LoanTypeSBA7A                LoanType = "sba_7a"
	LoanTypeSBA504               LoanType = "sba_504"
	LoanTypeSBAExpress           LoanType = "sba_express"
	LoanTypeEquipmentFinancing   LoanType = "equipment_financing"
	LoanTypeBridgeLoan           LoanType = "bridge_loan"
	LoanTypeTermLoan             LoanType = "term_loan"
	LoanTypeLineOfCredit         LoanType = "line_of_credit"
	LoanTypeCommercialRealEstate LoanType = "commercial_real_estate"
	LoanTypeWorkingCapital       LoanType = "working_capital"
)

var loanTypes = []LoanType{
	LoanTypeSBA7A,
	LoanTypeSBA504,
	LoanTypeSBAExpress,
	LoanTypeEquipmentFinancing,
	LoanTypeBridgeLoan,
	LoanTypeTermLoan,
	LoanTypeLineOfCredit,
	LoanTypeCommercialRealEstate,
	LoanTypeWorkingCapital,
}

func LoanTypes() []LoanType {
	out := make([]LoanType, len(loanTypes))
	copy(out, loanTypes)
	return out
}

func (t LoanType) Valid() bool {
	for _, v := range loanTypes {
		if v == t {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusDraft         Status = "draft"
	StatusSubmitted     Status = "submitted"
	StatusUnderReview   Status = "under_review"
	StatusInfoRequested Status = "info_requested"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusFunded        Status = "funded"
	StatusWithdrawn     Status = "withdrawn"
)

var statuses = []Status{
	StatusDraft,
	StatusSubmitted,
	StatusUnderReview,
	StatusInfoRequested,
	StatusApproved,
	StatusRejected,
	StatusFunded,
	StatusWithdrawn,
}

func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

func (s Status) Valid() bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusFunded || s == StatusRejected || s == StatusWithdrawn
}

// Editable reports whether the applicant may still change the application.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusInfoRequested
}

// InPipeline reports whether requested money in this status counts as pending.
func (s Status) InPipeline() bool {
	switch s {
	case StatusSubmitted, StatusUnderReview, StatusInfoRequested, StatusApproved:
		return true
	default:
		return false
	}
}

// Actor is whoever performs a lending operation.
type Actor struct {
	ID   string
	Role string
}

type Application struct {
	ID                string           `json:"id"`
	ApplicantID       string           `json:"applicant_id"`
	BusinessName      string           `json:"business_name"`
	LoanType          LoanType         `json:"loan_type"`
	Amount            decimal.Decimal  `json:"amount"`
	TermMonths        int              `json:"term_months"`
	Purpose           string           `json:"purpose"`
	Status            Status           `json:"status"`
	AssignedOfficerID string           `json:"assigned_officer_id,omitempty"`
	FormData          map[string]any   `json:"form_data"`
	ApprovedAmount    *decimal.Decimal `json:"approved_amount"`
	FundedAmount      *decimal.Decimal `json:"funded_amount"`
	SubmittedAt       *time.Time       `json:"submitted_at"`
	DecidedAt         *time.Time       `json:"decided_at"`
	FundedAt          *time.Time       `json:"funded_at"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type StatusEvent struct {
	ID            int64     `json:"id"`
	ApplicationID string    `json:"application_id"`
	From          Status    `json:"from_status"`
	To            Status    `json:"to_status"`
	ActorID       string    `json:"actor_id"`
	ActorRole     string    `json:"actor_role"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Note struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	AuthorID      string    `json:"author_id"`
	Body          string    `json:"body"`
	Internal      bool      `json:"internal"`
	CreatedAt     time.Time `json:"created_at"`
}

type Notification struct {
	ID            string     `json:"id"`
	RecipientID   string     `json:"recipient_id"`
	ApplicationID string     `json:"application_id,omitempty"`
	Kind          string     `json:"kind"`
	Subject       string     `json:"subject"`
	Body          string     `json:"body"`
	ReadAt        *time.Time `json:"read_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

type ListFilter struct {
	Status      Status
	LoanType    LoanType
	AssignedTo  string
	ApplicantID string
	Query       string
	Limit       int
	Offset      int
}

// StatusTotal aggregates applications sharing one status.
type StatusTotal struct {
	Status       Status
	Count        int
	Amount       decimal.Decimal
	FundedAmount decimal.Decimal
}

type Dashboard struct {
	Total          int            `json:"total"`
	ByStatus       map[Status]int `json:"by_status"`
	PipelineAmount string         `json:"pipeline_amount"`
	FundedAmount   string         `json:"funded_amount"`
}
