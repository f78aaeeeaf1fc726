package app

import (
	"errors"

	"cylinder-billing/internal/core"

	"github.com/shopspring/decimal"
)

// FailureKind discriminates rejected operations at the API boundary.
type FailureKind string

const (
	FailureValidation FailureKind = "VALIDATION"
	FailureRule       FailureKind = "RULE_VIOLATION"
	FailureNotFound   FailureKind = "NOT_FOUND"
	FailureConflict   FailureKind = "CONFLICT"
	FailureInternal   FailureKind = "INTERNAL"
)

// Failure is the discriminated rejection adapters render. Rule violations
// carry the numeric context so the caller can explain the exact figures.
type Failure struct {
	Kind      FailureKind      `json:"kind"`
	Message   string           `json:"message"`
	Rule      string           `json:"rule,omitempty"`
	Attempted *decimal.Decimal `json:"attempted,omitempty"`
	Limit     *decimal.Decimal `json:"limit,omitempty"`
}

// ClassifyError converts a core error into a Failure. Tenant mismatches were
// already collapsed into ErrNotFound by the engine, so nothing here can leak
// cross-tenant existence.
func ClassifyError(err error) *Failure {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		return &Failure{Kind: FailureValidation, Message: ve.Error()}
	}

	var rv *core.RuleViolation
	if errors.As(err, &rv) {
		attempted, limit := rv.Attempted, rv.Limit
		return &Failure{
			Kind:      FailureRule,
			Message:   rv.Message,
			Rule:      rv.Rule,
			Attempted: &attempted,
			Limit:     &limit,
		}
	}

	switch {
	case errors.Is(err, core.ErrNotFound):
		return &Failure{Kind: FailureNotFound, Message: "not found or no permission"}
	case errors.Is(err, core.ErrBillLocked), errors.Is(err, core.ErrInvoiceExists):
		return &Failure{Kind: FailureRule, Message: err.Error()}
	case errors.Is(err, core.ErrDuplicateBill):
		return &Failure{Kind: FailureConflict, Message: err.Error()}
	case errors.Is(err, core.ErrNoTenantOwner):
		return &Failure{Kind: FailureValidation, Message: err.Error()}
	default:
		return &Failure{Kind: FailureInternal, Message: "internal error"}
	}
}

// BillResult is a bill with its derived financial state attached.
type BillResult struct {
	Bill   *core.Bill      `json:"bill"`
	Totals core.BillTotals `json:"totals"`
}

// BillListResult is returned by ListBills.
type BillListResult struct {
	Bills []BillResult `json:"bills"`
}

// DeliveryListResult is returned by ListDeliveries.
type DeliveryListResult struct {
	Entries []core.DeliveryEntry `json:"entries"`
}

// CustomerListResult is returned by ListCustomers.
type CustomerListResult struct {
	Customers []core.Customer `json:"customers"`
}

// LogListResult is returned by ListLogs.
type LogListResult struct {
	Logs []core.PaymentLog `json:"logs"`
}

// Session is returned by AuthenticateUser for the edge to mint its token.
type Session struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	Role     core.Role `json:"role"`
	AdminID  *int64    `json:"admin_id,omitempty"`
}
