package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillStatus is the derived paid state of a bill. It is computed on every
// read and never persisted.
type BillStatus string

const (
	StatusNotPaid       BillStatus = "NOT_PAID"
	StatusPartiallyPaid BillStatus = "PARTIALLY_PAID"
	StatusPaid          BillStatus = "PAID"
)

// Bill is one customer's financial obligation for [BillStart, BillEnd).
// LastMonthRemaining carries the unpaid balance of the most recent prior bill.
type Bill struct {
	ID                 int64           `json:"id"`
	AdminID            int64           `json:"admin_id"`
	CustomerID         int64           `json:"customer_id"`
	BillStart          time.Time       `json:"bill_start"`
	BillEnd            time.Time       `json:"bill_end"`
	LastMonthRemaining decimal.Decimal `json:"last_month_remaining"`
	CurrentMonthBill   decimal.Decimal `json:"current_month_bill"`
	Cylinders          int             `json:"cylinders"`
	CreatedAt          time.Time       `json:"created_at"`

	Payments []Payment `json:"payments,omitempty"`
	Invoice  *Invoice  `json:"invoice,omitempty"`
}

// Payment is a single payment event applied against exactly one bill.
type Payment struct {
	ID        int64           `json:"id"`
	AdminID   int64           `json:"admin_id"`
	BillID    int64           `json:"bill_id"`
	Amount    decimal.Decimal `json:"amount"`
	PaidOn    time.Time       `json:"paid_on"`
	Method    string          `json:"method"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Invoice is the 1:1 lock object attached to a bill. While present, the bill
// and its payments are immutable.
type Invoice struct {
	ID          int64     `json:"id"`
	AdminID     int64     `json:"admin_id"`
	BillID      int64     `json:"bill_id"`
	Number      string    `json:"number"`
	GeneratedAt time.Time `json:"generated_at"`
}

// BillTotals is the derived financial state of a bill.
type BillTotals struct {
	Total     decimal.Decimal `json:"total_amount"`
	Paid      decimal.Decimal `json:"paid_amount"`
	Remaining decimal.Decimal `json:"remaining_amount"`
	Status    BillStatus      `json:"status"`
}

// DeriveTotals computes a bill's totals and status from its stored figures and
// payments. Pure: identical inputs always yield identical outputs.
func DeriveTotals(lastMonthRemaining, currentMonthBill decimal.Decimal, payments []Payment) BillTotals {
	total := lastMonthRemaining.Add(currentMonthBill)

	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}

	remaining := total.Sub(paid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	status := StatusNotPaid
	switch {
	case remaining.LessThanOrEqual(decimal.Zero):
		status = StatusPaid
	case paid.GreaterThan(decimal.Zero):
		status = StatusPartiallyPaid
	}

	return BillTotals{Total: total, Paid: paid, Remaining: remaining, Status: status}
}

// Totals derives the bill's financial state from its loaded payments.
func (b *Bill) Totals() BillTotals {
	return DeriveTotals(b.LastMonthRemaining, b.CurrentMonthBill, b.Payments)
}

// Locked reports whether an invoice freezes this bill.
func (b *Bill) Locked() bool { return b.Invoice != nil }
