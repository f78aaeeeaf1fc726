package app

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryRequest is the input for recording or editing a cylinder movement.
// CustomerID wins over CustomerRef; the latter accepts the legacy
// "<code> · <name>" composite form.
type DeliveryRequest struct {
	CustomerID    *int64          `json:"customer_id,omitempty"`
	CustomerRef   string          `json:"customer_ref,omitempty"`
	Kind          string          `json:"kind"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	CylinderLabel string          `json:"cylinder_label,omitempty"`
	DeliveryDate  string          `json:"delivery_date"` // YYYY-MM-DD
	Verified      bool            `json:"verified"`

	EmptiesReceived int             `json:"empties_received,omitempty"`
	PaymentType     string          `json:"payment_type,omitempty"`
	PaymentAmount   decimal.Decimal `json:"payment_amount"`
	PaymentReceiver string          `json:"payment_receiver,omitempty"`
}

// DeliveryListRequest narrows delivery listings.
type DeliveryListRequest struct {
	CustomerID *int64
	Kind       string
	From       string // YYYY-MM-DD, optional
	To         string // YYYY-MM-DD, optional
}

// GenerateBillsRequest selects the billing period.
type GenerateBillsRequest struct {
	PeriodStart string `json:"period_start"` // YYYY-MM-DD
	PeriodEnd   string `json:"period_end"`   // YYYY-MM-DD
}

// PaymentRequest is the input for recording a payment against a bill.
type PaymentRequest struct {
	BillID int64           `json:"bill_id"`
	Amount decimal.Decimal `json:"amount"`
	PaidOn string          `json:"paid_on"` // YYYY-MM-DD, defaults to today
	Method string          `json:"method,omitempty"`
	Notes  string          `json:"notes,omitempty"`
}

// CustomerRequest is the input for creating a customer.
type CustomerRequest struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// parseDate parses a YYYY-MM-DD value, returning the zero time for "".
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}
