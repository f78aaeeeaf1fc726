package app

import (
	"context"

	"cylinder-billing/internal/core"
)

// ApplicationService is the single interface all adapters (HTTP, CLI) call.
// Every operation takes the resolved Principal explicitly; the engine never
// reads ambient request state. Implementations contain no display logic.
type ApplicationService interface {
	// AuthenticateUser verifies credentials and returns the session identity
	// for the edge to encode into its token.
	AuthenticateUser(ctx context.Context, username, password string) (*Session, error)

	// PrincipalByID rebuilds the Principal for a previously authenticated user.
	PrincipalByID(ctx context.Context, userID int64) (*core.Principal, error)

	// Customers
	CreateCustomer(ctx context.Context, p core.Principal, req CustomerRequest) (*core.Customer, error)
	ListCustomers(ctx context.Context, p core.Principal) (*CustomerListResult, error)

	// Delivery ledger
	RecordDelivery(ctx context.Context, p core.Principal, req DeliveryRequest) (*core.DeliveryEntry, error)
	UpdateDelivery(ctx context.Context, p core.Principal, id int64, req DeliveryRequest) (*core.DeliveryEntry, error)
	DeleteDelivery(ctx context.Context, p core.Principal, id int64) error
	ListDeliveries(ctx context.Context, p core.Principal, req DeliveryListRequest) (*DeliveryListResult, error)

	// Bills
	GenerateBills(ctx context.Context, p core.Principal, req GenerateBillsRequest) (*core.GenerateBillsResult, error)
	GetBill(ctx context.Context, p core.Principal, id int64) (*BillResult, error)
	ListBills(ctx context.Context, p core.Principal, customerID *int64) (*BillListResult, error)
	DeleteBill(ctx context.Context, p core.Principal, id int64) error

	// Payments
	RecordPayment(ctx context.Context, p core.Principal, req PaymentRequest) (*BillResult, error)
	DeletePayment(ctx context.Context, p core.Principal, paymentID int64) error

	// Invoices
	GenerateInvoice(ctx context.Context, p core.Principal, billID int64) (*core.Invoice, error)
	DeleteInvoice(ctx context.Context, p core.Principal, invoiceID int64) error

	// Audit trail
	ListLogs(ctx context.Context, p core.Principal, limit int) (*LogListResult, error)
}
