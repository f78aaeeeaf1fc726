package app

import (
	"context"
	"fmt"
	"time"

	"cylinder-billing/internal/core"

	"golang.org/x/crypto/bcrypt"
)

type appService struct {
	dir        core.UserDirectory
	customers  core.CustomerService
	deliveries core.DeliveryService
	bills      core.BillService
	payments   core.PaymentService
	invoices   core.InvoiceService
	logs       core.LogService
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	dir core.UserDirectory,
	customers core.CustomerService,
	deliveries core.DeliveryService,
	bills core.BillService,
	payments core.PaymentService,
	invoices core.InvoiceService,
	logs core.LogService,
) ApplicationService {
	return &appService{
		dir:        dir,
		customers:  customers,
		deliveries: deliveries,
		bills:      bills,
		payments:   payments,
		invoices:   invoices,
		logs:       logs,
	}
}

func (s *appService) AuthenticateUser(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.dir.GetByUsername(ctx, username)
	if err != nil {
		return nil, core.ErrNotFound
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, core.ErrNotFound
	}
	return &Session{UserID: user.ID, Username: user.Username, Role: user.Role, AdminID: user.AdminID}, nil
}

func (s *appService) PrincipalByID(ctx context.Context, userID int64) (*core.Principal, error) {
	user, err := s.dir.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := user.Principal()
	return &p, nil
}

func (s *appService) CreateCustomer(ctx context.Context, p core.Principal, req CustomerRequest) (*core.Customer, error) {
	return s.customers.CreateCustomer(ctx, p, req.Code, req.Name, req.Phone, req.Address)
}

func (s *appService) ListCustomers(ctx context.Context, p core.Principal) (*CustomerListResult, error) {
	customers, err := s.customers.GetCustomers(ctx, p)
	if err != nil {
		return nil, err
	}
	return &CustomerListResult{Customers: customers}, nil
}

func (s *appService) deliveryInput(req DeliveryRequest) (core.DeliveryInput, error) {
	date, err := parseDate(req.DeliveryDate)
	if err != nil {
		return core.DeliveryInput{}, &core.ValidationError{Field: "delivery_date", Reason: "must be YYYY-MM-DD"}
	}
	return core.DeliveryInput{
		CustomerID:      req.CustomerID,
		CustomerRef:     req.CustomerRef,
		Kind:            core.MovementKind(req.Kind),
		Quantity:        req.Quantity,
		UnitPrice:       req.UnitPrice,
		CylinderLabel:   req.CylinderLabel,
		DeliveryDate:    date,
		Verified:        req.Verified,
		EmptiesReceived: req.EmptiesReceived,
		PaymentType:     req.PaymentType,
		PaymentAmount:   req.PaymentAmount,
		PaymentReceiver: req.PaymentReceiver,
	}, nil
}

func (s *appService) RecordDelivery(ctx context.Context, p core.Principal, req DeliveryRequest) (*core.DeliveryEntry, error) {
	in, err := s.deliveryInput(req)
	if err != nil {
		return nil, err
	}
	return s.deliveries.RecordDelivery(ctx, p, in)
}

func (s *appService) UpdateDelivery(ctx context.Context, p core.Principal, id int64, req DeliveryRequest) (*core.DeliveryEntry, error) {
	in, err := s.deliveryInput(req)
	if err != nil {
		return nil, err
	}
	return s.deliveries.UpdateDelivery(ctx, p, id, in)
}

func (s *appService) DeleteDelivery(ctx context.Context, p core.Principal, id int64) error {
	return s.deliveries.DeleteDelivery(ctx, p, id)
}

func (s *appService) ListDeliveries(ctx context.Context, p core.Principal, req DeliveryListRequest) (*DeliveryListResult, error) {
	f := core.DeliveryFilter{CustomerID: req.CustomerID}
	if req.Kind != "" {
		kind := core.MovementKind(req.Kind)
		f.Kind = &kind
	}
	from, err := parseDate(req.From)
	if err != nil {
		return nil, &core.ValidationError{Field: "from", Reason: "must be YYYY-MM-DD"}
	}
	if !from.IsZero() {
		f.From = &from
	}
	to, err := parseDate(req.To)
	if err != nil {
		return nil, &core.ValidationError{Field: "to", Reason: "must be YYYY-MM-DD"}
	}
	if !to.IsZero() {
		f.To = &to
	}

	entries, err := s.deliveries.ListDeliveries(ctx, p, f)
	if err != nil {
		return nil, err
	}
	return &DeliveryListResult{Entries: entries}, nil
}

func (s *appService) GenerateBills(ctx context.Context, p core.Principal, req GenerateBillsRequest) (*core.GenerateBillsResult, error) {
	start, err := parseDate(req.PeriodStart)
	if err != nil || start.IsZero() {
		return nil, &core.ValidationError{Field: "period_start", Reason: "must be YYYY-MM-DD"}
	}
	end, err := parseDate(req.PeriodEnd)
	if err != nil || end.IsZero() {
		return nil, &core.ValidationError{Field: "period_end", Reason: "must be YYYY-MM-DD"}
	}
	return s.bills.GenerateBills(ctx, p, start, end)
}

func (s *appService) GetBill(ctx context.Context, p core.Principal, id int64) (*BillResult, error) {
	bill, err := s.bills.GetBill(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return &BillResult{Bill: bill, Totals: bill.Totals()}, nil
}

func (s *appService) ListBills(ctx context.Context, p core.Principal, customerID *int64) (*BillListResult, error) {
	bills, err := s.bills.ListBills(ctx, p, core.BillFilter{CustomerID: customerID})
	if err != nil {
		return nil, err
	}
	out := make([]BillResult, len(bills))
	for i := range bills {
		out[i] = BillResult{Bill: &bills[i], Totals: bills[i].Totals()}
	}
	return &BillListResult{Bills: out}, nil
}

func (s *appService) DeleteBill(ctx context.Context, p core.Principal, id int64) error {
	return s.bills.DeleteBill(ctx, p, id)
}

func (s *appService) RecordPayment(ctx context.Context, p core.Principal, req PaymentRequest) (*BillResult, error) {
	if req.BillID == 0 {
		return nil, &core.ValidationError{Field: "bill_id", Reason: "is required"}
	}
	paidOn, err := parseDate(req.PaidOn)
	if err != nil {
		return nil, &core.ValidationError{Field: "paid_on", Reason: "must be YYYY-MM-DD"}
	}
	if paidOn.IsZero() {
		paidOn = time.Now().UTC().Truncate(24 * time.Hour)
	}

	if _, err := s.payments.RecordPayment(ctx, p, req.BillID, req.Amount, paidOn, req.Method, req.Notes); err != nil {
		return nil, err
	}

	bill, err := s.bills.GetBill(ctx, p, req.BillID)
	if err != nil {
		return nil, fmt.Errorf("payment recorded but bill reload failed: %w", err)
	}
	return &BillResult{Bill: bill, Totals: bill.Totals()}, nil
}

func (s *appService) DeletePayment(ctx context.Context, p core.Principal, paymentID int64) error {
	return s.payments.DeletePayment(ctx, p, paymentID)
}

func (s *appService) GenerateInvoice(ctx context.Context, p core.Principal, billID int64) (*core.Invoice, error) {
	return s.invoices.GenerateInvoice(ctx, p, billID)
}

func (s *appService) DeleteInvoice(ctx context.Context, p core.Principal, invoiceID int64) error {
	return s.invoices.DeleteInvoice(ctx, p, invoiceID)
}

func (s *appService) ListLogs(ctx context.Context, p core.Principal, limit int) (*LogListResult, error) {
	logs, err := s.logs.ListLogs(ctx, p, limit)
	if err != nil {
		return nil, err
	}
	return &LogListResult{Logs: logs}, nil
}
