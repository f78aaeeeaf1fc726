package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is an authenticated principal row. Owners carry a nil AdminID; their
// tenant id is their own user id. Staff carry the owning tenant's owner id.
type User struct {
	ID           int64     `json:"id"`
	AdminID      *int64    `json:"admin_id,omitempty"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal returns the tenancy view of this user.
func (u *User) Principal() Principal {
	return Principal{UserID: u.ID, Role: u.Role, AdminID: u.AdminID}
}

// Customer is a gas-cylinder customer within one tenant.
type Customer struct {
	ID        int64     `json:"id"`
	AdminID   int64     `json:"admin_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MovementKind is the direction of a cylinder movement.
type MovementKind string

const (
	// MovementDelivered records filled cylinders sent to a customer.
	MovementDelivered MovementKind = "DELIVERED"
	// MovementReceived records empty cylinders returned by a customer.
	MovementReceived MovementKind = "RECEIVED"
)

// DeliveryEntry is one cylinder movement event, the raw material bills are
// aggregated from. CustomerID may be nil when a legacy composite reference
// failed to resolve; CustomerLabel preserves the raw string as entered.
type DeliveryEntry struct {
	ID            int64           `json:"id"`
	AdminID       int64           `json:"admin_id"`
	CustomerID    *int64          `json:"customer_id,omitempty"`
	CustomerLabel string          `json:"customer_label,omitempty"`
	Kind          MovementKind    `json:"kind"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Amount        decimal.Decimal `json:"amount"`
	CylinderLabel string          `json:"cylinder_label,omitempty"`
	DeliveryDate  time.Time       `json:"delivery_date"`
	Verified      bool            `json:"verified"`

	// RECEIVED entries optionally carry collection metadata.
	EmptiesReceived int             `json:"empties_received,omitempty"`
	PaymentType     string          `json:"payment_type,omitempty"`
	PaymentAmount   decimal.Decimal `json:"payment_amount"`
	PaymentReceiver string          `json:"payment_receiver,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// LogKind classifies a payment_logs row.
type LogKind string

const (
	LogBillGenerated   LogKind = "BILL_GENERATED"
	LogBillDeleted     LogKind = "BILL_DELETED"
	LogPaymentReceived LogKind = "PAYMENT_RECEIVED"
	LogPaymentDeleted  LogKind = "PAYMENT_DELETED"
)

// PaymentLog is one append-only audit trail row. BillID is nulled by the
// database when the bill is deleted; the figures and details survive.
type PaymentLog struct {
	ID         int64           `json:"id"`
	AdminID    int64           `json:"admin_id"`
	CustomerID *int64          `json:"customer_id,omitempty"`
	BillID     *int64          `json:"bill_id,omitempty"`
	Kind       LogKind         `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	Details    string          `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
