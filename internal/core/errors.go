package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors mapped by adapters onto transport status codes.
// ErrNotFound deliberately covers both "no such row" and "row belongs to a
// different tenant" so callers cannot probe for cross-tenant existence.
var (
	ErrNotFound      = errors.New("not found")
	ErrBillLocked    = errors.New("bill is financially locked by an issued invoice")
	ErrInvoiceExists = errors.New("an invoice has already been generated for this bill")
	ErrDuplicateBill = errors.New("a bill already exists for this customer and period")
	ErrNoTenantOwner = errors.New("no tenant owner exists to receive the record")
)

// ValidationError reports malformed input before any business rule is evaluated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RuleViolation reports a business-rule rejection together with the numbers
// that triggered it, so the caller can render the exact financial explanation.
type RuleViolation struct {
	Rule      string
	Message   string
	Attempted decimal.Decimal
	Limit     decimal.Decimal
}

// Rule identifiers carried on RuleViolation.
const (
	RuleReceivedExceedsDelivered = "received_exceeds_delivered"
	RulePaymentExceedsRemaining  = "payment_exceeds_remaining"
)

func (e *RuleViolation) Error() string { return e.Message }

// IsRuleError reports whether err is any business-rule rejection, sentinel or typed.
func IsRuleError(err error) bool {
	var rv *RuleViolation
	if errors.As(err, &rv) {
		return true
	}
	return errors.Is(err, ErrBillLocked) ||
		errors.Is(err, ErrInvoiceExists) ||
		errors.Is(err, ErrDuplicateBill)
}
