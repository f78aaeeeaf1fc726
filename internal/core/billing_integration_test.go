package core_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"cylinder-billing/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE payment_logs, invoices, invoice_sequences, payments, bills, delivery_entries, customers, users CASCADE;

		INSERT INTO users (id, admin_id, username, password_hash, role) VALUES
		(1, NULL, 'mizan', 'x', 'owner'),
		(2, NULL, 'rivalgas', 'x', 'owner'),
		(3, 1, 'counterstaff', 'x', 'staff'),
		(10, NULL, 'root', 'x', 'super');

		INSERT INTO customers (id, admin_id, code, name) VALUES
		(1, 1, 'C-001', 'Rahman Traders'),
		(2, 1, 'C-002', 'Karim Store'),
		(3, 2, 'C-001', 'Rahman Traders');

		SELECT setval('users_id_seq', 100);
		SELECT setval('customers_id_seq', 100);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}

type testEnv struct {
	pool       *pgxpool.Pool
	deliveries core.DeliveryService
	bills      core.BillService
	payments   core.PaymentService
	invoices   core.InvoiceService
	logs       core.LogService
}

func newTestEnv(pool *pgxpool.Pool) *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := core.NewUserDirectory(pool)
	customers := core.NewCustomerService(pool, dir)
	resyncer := core.NewBillResyncer(pool, logger)
	return &testEnv{
		pool:       pool,
		deliveries: core.NewDeliveryService(pool, customers, dir, resyncer, logger),
		bills:      core.NewBillService(pool, customers, dir, logger, 4),
		payments:   core.NewPaymentService(pool, resyncer, logger),
		invoices:   core.NewInvoiceService(pool, logger),
		logs:       core.NewLogService(pool),
	}
}

var (
	ownerA = core.Principal{UserID: 1, Role: core.RoleOwner}
	ownerB = core.Principal{UserID: 2, Role: core.RoleOwner}
)

func i64(v int64) *int64 { return &v }

func day(d int) time.Time { return time.Date(2025, 10, d, 0, 0, 0, 0, time.UTC) }

var (
	periodStart = day(1)
	periodEnd   = day(31)
)

func deliver(t *testing.T, env *testEnv, p core.Principal, customerID int64, qty int, price int64, date time.Time) *core.DeliveryEntry {
	t.Helper()
	e, err := env.deliveries.RecordDelivery(context.Background(), p, core.DeliveryInput{
		CustomerID:    &customerID,
		Kind:          core.MovementDelivered,
		Quantity:      qty,
		UnitPrice:     decimal.NewFromInt(price),
		CylinderLabel: "12kg",
		DeliveryDate:  date,
	})
	if err != nil {
		t.Fatalf("RecordDelivery failed: %v", err)
	}
	return e
}

func generateOneBill(t *testing.T, env *testEnv, p core.Principal) {
	t.Helper()
	res, err := env.bills.GenerateBills(context.Background(), p, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("GenerateBills failed: %v", err)
	}
	if len(res.Failures) > 0 {
		t.Fatalf("GenerateBills reported failures: %+v", res.Failures)
	}
	if res.Created != 1 {
		t.Fatalf("expected 1 bill created, got %d", res.Created)
	}
}

func billForCustomer(t *testing.T, env *testEnv, p core.Principal, customerID int64) *core.Bill {
	t.Helper()
	bills, err := env.bills.ListBills(context.Background(), p, core.BillFilter{CustomerID: &customerID})
	if err != nil {
		t.Fatalf("ListBills failed: %v", err)
	}
	if len(bills) == 0 {
		t.Fatalf("no bill found for customer %d", customerID)
	}
	return &bills[0]
}

func TestTenantIsolation(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)
	ctx := context.Background()

	deliver(t, env, ownerA, 1, 10, 500, day(5))
	deliver(t, env, ownerB, 3, 4, 600, day(5))

	entriesA, err := env.deliveries.ListDeliveries(ctx, ownerA, core.DeliveryFilter{})
	if err != nil {
		t.Fatalf("ListDeliveries failed: %v", err)
	}
	for _, e := range entriesA {
		if e.AdminID != 1 {
			t.Fatalf("tenant A listing leaked entry of tenant %d", e.AdminID)
		}
	}
	if len(entriesA) != 1 {
		t.Fatalf("expected 1 entry for tenant A, got %d", len(entriesA))
	}

	// Cross-tenant reads must be indistinguishable from not-found.
	generateOneBill(t, env, ownerB)
	billB := billForCustomer(t, env, ownerB, 3)
	if _, err := env.bills.GetBill(ctx, ownerA, billB.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cross-tenant bill read, got %v", err)
	}
	if err := env.bills.DeleteBill(ctx, ownerA, billB.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cross-tenant bill delete, got %v", err)
	}

	// Staff inherits the owner's scope.
	staff := core.Principal{UserID: 3, Role: core.RoleStaff, AdminID: i64(1)}
	entriesStaff, err := env.deliveries.ListDeliveries(ctx, staff, core.DeliveryFilter{})
	if err != nil {
		t.Fatalf("staff ListDeliveries failed: %v", err)
	}
	if len(entriesStaff) != 1 {
		t.Fatalf("staff expected tenant A's 1 entry, got %d", len(entriesStaff))
	}

	// A super operator sees both tenants.
	super := core.Principal{UserID: 10, Role: core.RoleSuper}
	entriesAll, err := env.deliveries.ListDeliveries(ctx, super, core.DeliveryFilter{})
	if err != nil {
		t.Fatalf("super ListDeliveries failed: %v", err)
	}
	if len(entriesAll) != 2 {
		t.Fatalf("super expected 2 entries, got %d", len(entriesAll))
	}
}

func TestReceivedCannotExceedDelivered(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)
	ctx := context.Background()

	deliver(t, env, ownerA, 1, 50, 500, day(3))

	receive := func(qty int) error {
		_, err := env.deliveries.RecordDelivery(ctx, ownerA, core.DeliveryInput{
			CustomerID:    i64(1),
			Kind:          core.MovementReceived,
			Quantity:      qty,
			UnitPrice:     decimal.NewFromInt(500),
			CylinderLabel: "12kg",
			DeliveryDate:  day(10),
		})
		return err
	}

	if err := receive(30); err != nil {
		t.Fatalf("receiving within quota failed: %v", err)
	}

	err := receive(25) // 30 + 25 > 50
	var rv *core.RuleViolation
	if !errors.As(err, &rv) {
		t.Fatalf("expected RuleViolation, got %v", err)
	}
	if rv.Rule != core.RuleReceivedExceedsDelivered {
		t.Fatalf("unexpected rule: %s", rv.Rule)
	}
	if !rv.Attempted.Equal(decimal.NewFromInt(55)) || !rv.Limit.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("violation should cite 55 and 50, got %s and %s", rv.Attempted, rv.Limit)
	}
	if !strings.Contains(rv.Message, "55") || !strings.Contains(rv.Message, "50") {
		t.Fatalf("message should carry both totals: %q", rv.Message)
	}
}

// Scenario A: 10 cylinders at 500 each, no prior bill.
func TestGenerateBills_FirstPeriod(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)

	deliver(t, env, ownerA, 1, 10, 500, day(5))
	generateOneBill(t, env, ownerA)

	bill := billForCustomer(t, env, ownerA, 1)
	if !bill.LastMonthRemaining.IsZero() {
		t.Fatalf("expected zero carried balance, got %s", bill.LastMonthRemaining)
	}
	if !bill.CurrentMonthBill.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected current month bill 5000, got %s", bill.CurrentMonthBill)
	}
	if bill.Cylinders != 10 {
		t.Fatalf("expected 10 cylinders, got %d", bill.Cylinders)
	}
	if got := bill.Totals().Status; got != core.StatusNotPaid {
		t.Fatalf("expected NOT_PAID, got %s", got)
	}
}

func TestGenerateBills_Idempotent(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)
	ctx := context.Background()

	deliver(t, env, ownerA, 1, 10, 500, day(5))
	generateOneBill(t, env, ownerA)

	// Second run for the same period is a no-op for already-billed customers.
	res, err := env.bills.GenerateBills(ctx, ownerA, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("second GenerateBills failed: %v", err)
	}
	if res.Created != 0 {
		t.Fatalf("second run created %d bills, want 0", res.Created)
	}

	bills, err := env.bills.ListBills(ctx, ownerA, core.BillFilter{CustomerID: i64(1)})
	if err != nil {
		t.Fatalf("ListBills failed: %v", err)
	}
	if len(bills) != 1 {
		t.Fatalf("expected exactly one bill, got %d", len(bills))
	}
}

func TestGenerateBills_ConcurrentRuns(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)
	ctx := context.Background()

	deliver(t, env, ownerA, 1, 10, 500, day(5))

	// Two racing runs for the same period must yield exactly one bill; the
	// loser counts the customer as skipped, never as failed.
	var wg sync.WaitGroup
	results := make([]*core.GenerateBillsResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.bills.GenerateBills(ctx, ownerA, periodStart, periodEnd)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("concurrent GenerateBills %d failed: %v", i, errs[i])
		}
		if len(results[i].Failures) > 0 {
			t.Fatalf("concurrent GenerateBills %d reported failures: %+v", i, results[i].Failures)
		}
		created += results[i].Created
	}
	if created != 1 {
		t.Fatalf("expected exactly 1 bill created across both runs, got %d", created)
	}

	bills, err := env.bills.ListBills(ctx, ownerA, core.BillFilter{CustomerID: i64(1)})
	if err != nil {
		t.Fatalf("ListBills failed: %v", err)
	}
	if len(bills) != 1 {
		t.Fatalf("expected exactly one bill, got %d", len(bills))
	}
}

func TestGenerateBills_SkipsInactiveCustomers(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)

	// Customer 1 has deliveries; customer 2 has none and must get no bill.
	deliver(t, env, ownerA, 1, 10, 500, day(5))
	generateOneBill(t, env, ownerA)

	bills, err := env.bills.ListBills(context.Background(), ownerA, core.BillFilter{CustomerID: i64(2)})
	if err != nil {
		t.Fatalf("ListBills failed: %v", err)
	}
	if len(bills) != 0 {
		t.Fatalf("inactive customer got %d bills, want 0", len(bills))
	}
}

// Scenarios B and D: full payment flips status to PAID; overshooting is rejected
// citing both figures.
func TestRecordPayment(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)
	ctx := context.Background()

	deliver(t, env, ownerA, 1, 10, 500, day(5))
	generateOneBill(t, env, ownerA)
	bill := billForCustomer(t, env, ownerA, 1)

	_, err := env.payments.RecordPayment(ctx, ownerA, bill.ID, decimal.NewFromInt(6000), day(20), "cash", "")
	var rv *core.RuleViolation
	if !errors.As(err, &rv) {
		t.Fatalf("expected RuleViolation for overshooting payment, got %v", err)
	}
	if !rv.Attempted.Equal(decimal.NewFromInt(6000)) || !rv.Limit.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("violation should cite 6000 and 5000, got %s and %s", rv.Attempted, rv.Limit)
	}

	if _, err := env.payments.RecordPayment(ctx, ownerA, bill.ID, decimal.NewFromInt(5000), day(20), "cash", ""); err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}

	bill, err = env.bills.GetBill(ctx, ownerA, bill.ID)
	if err != nil {
		t.Fatalf("GetBill failed: %v", err)
	}
	totals := bill.Totals()
	if totals.Status != core.StatusPaid || !totals.Remaining.IsZero() {
		t.Fatalf("expected PAID with zero remaining, got %s remaining %s", totals.Status, totals.Remaining)
	}
}

// Scenario C: a partial payment leaves 3000 outstanding, which the next
// period's bill carries forward as lastMonthRemaining.
func TestCarriedBalance(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)
	ctx := context.Background()

	deliver(t, env, ownerA, 1, 10, 500, day(5))
	generateOneBill(t, env, ownerA)
	bill := billForCustomer(t, env, ownerA, 1)

	if _, err := env.payments.RecordPayment(ctx, ownerA, bill.ID, decimal.NewFromInt(2000), day(20), "bkash", ""); err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}

	bill, err := env.bills.GetBill(ctx, ownerA, bill.ID)
	if err != nil {
		t.Fatalf("GetBill failed: %v", err)
	}
	totals := bill.Totals()
	if totals.Status != core.StatusPartiallyPaid || !totals.Remaining.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("expected PARTIALLY_PAID with 3000 remaining, got %s remaining %s", totals.Status, totals.Remaining)
	}

	// November deliveries worth 3000.
	nov := func(d int) time.Time { return time.Date(2025, 11, d, 0, 0, 0, 0, time.UTC) }
	deliver(t, env, ownerA, 1, 6, 500, nov(4))
	res, err := env.bills.GenerateBills(ctx, ownerA, nov(1), nov(30))
	if err != nil || res.Created != 1 {
		t.Fatalf("November GenerateBills: created=%d err=%v", res.Created, err)
	}

	novStart := nov(1)
	bills, err := env.bills.ListBills(ctx, ownerA, core.BillFilter{CustomerID: i64(1), PeriodStart: &novStart})
	if err != nil || len(bills) != 1 {
		t.Fatalf("November bill lookup: n=%d err=%v", len(bills), err)
	}
	if !bills[0].LastMonthRemaining.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("expected carried balance 3000, got %s", bills[0].LastMonthRemaining)
	}
	if !bills[0].CurrentMonthBill.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("expected current month bill 3000, got %s", bills[0].CurrentMonthBill)
	}
}

// Scenario E: an issued invoice freezes the bill until it is withdrawn.
func TestInvoiceLock(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)
	ctx := context.Background()

	deliver(t, env, ownerA, 1, 10, 500, day(5))
	generateOneBill(t, env, ownerA)
	bill := billForCustomer(t, env, ownerA, 1)

	payment, err := env.payments.RecordPayment(ctx, ownerA, bill.ID, decimal.NewFromInt(5000), day(20), "cash", "")
	if err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}

	inv, err := env.invoices.GenerateInvoice(ctx, ownerA, bill.ID)
	if err != nil {
		t.Fatalf("GenerateInvoice failed: %v", err)
	}
	if inv.Number == "" {
		t.Fatal("invoice number must not be empty")
	}

	if _, err := env.invoices.GenerateInvoice(ctx, ownerA, bill.ID); !errors.Is(err, core.ErrInvoiceExists) {
		t.Fatalf("second GenerateInvoice: expected ErrInvoiceExists, got %v", err)
	}

	// Every financial mutation must now be rejected.
	if _, err := env.payments.RecordPayment(ctx, ownerA, bill.ID, decimal.NewFromInt(1), day(21), "cash", ""); !errors.Is(err, core.ErrBillLocked) {
		t.Fatalf("RecordPayment on locked bill: expected ErrBillLocked, got %v", err)
	}
	if err := env.payments.DeletePayment(ctx, ownerA, payment.ID); !errors.Is(err, core.ErrBillLocked) {
		t.Fatalf("DeletePayment on locked bill: expected ErrBillLocked, got %v", err)
	}
	if err := env.bills.DeleteBill(ctx, ownerA, bill.ID); !errors.Is(err, core.ErrBillLocked) {
		t.Fatalf("DeleteBill on locked bill: expected ErrBillLocked, got %v", err)
	}

	// Withdrawing the invoice unlocks the bill.
	if err := env.invoices.DeleteInvoice(ctx, ownerA, inv.ID); err != nil {
		t.Fatalf("DeleteInvoice failed: %v", err)
	}
	if err := env.payments.DeletePayment(ctx, ownerA, payment.ID); err != nil {
		t.Fatalf("DeletePayment after unlock failed: %v", err)
	}
}

// Scenario F: deleting a DELIVERED entry cascades to the matching RECEIVED
// entry of the same day, label and price, and to nothing else.
func TestDeleteDeliveredCascades(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)
	ctx := context.Background()

	receive := func(customerID int64, qty int, date time.Time) {
		t.Helper()
		if _, err := env.deliveries.RecordDelivery(ctx, ownerA, core.DeliveryInput{
			CustomerID:    &customerID,
			Kind:          core.MovementReceived,
			Quantity:      qty,
			UnitPrice:     decimal.NewFromInt(500),
			CylinderLabel: "12kg",
			DeliveryDate:  date,
		}); err != nil {
			t.Fatalf("RecordDelivery (received) failed: %v", err)
		}
	}

	delivered := deliver(t, env, ownerA, 1, 10, 500, day(5))
	receive(1, 10, day(5))

	// A received entry on a different day must survive the cascade.
	deliver(t, env, ownerA, 1, 5, 500, day(6))
	receive(1, 3, day(6))

	// Another customer's entries on the same day, label and price must also
	// survive, even though both carry an empty legacy label.
	deliver(t, env, ownerA, 2, 10, 500, day(5))
	receive(2, 10, day(5))

	if err := env.deliveries.DeleteDelivery(ctx, ownerA, delivered.ID); err != nil {
		t.Fatalf("DeleteDelivery failed: %v", err)
	}

	entries, err := env.deliveries.ListDeliveries(ctx, ownerA, core.DeliveryFilter{})
	if err != nil {
		t.Fatalf("ListDeliveries failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 surviving entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.DeliveryDate.Day() == 5 && e.CustomerID != nil && *e.CustomerID == 1 {
			t.Fatalf("customer 1's day-5 entry survived the cascade: id=%d kind=%s", e.ID, e.Kind)
		}
		if e.DeliveryDate.Day() == 5 && (e.CustomerID == nil || *e.CustomerID != 2) {
			t.Fatalf("unexpected day-5 survivor: id=%d kind=%s customer=%v", e.ID, e.Kind, e.CustomerID)
		}
	}

	remaining, err := env.deliveries.ListDeliveries(ctx, ownerA, core.DeliveryFilter{CustomerID: i64(2)})
	if err != nil {
		t.Fatalf("ListDeliveries for customer 2 failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("customer 2 expected both entries to survive, got %d", len(remaining))
	}
}

func TestGenerateInvoice_Concurrent(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)
	ctx := context.Background()

	deliver(t, env, ownerA, 1, 10, 500, day(5))
	generateOneBill(t, env, ownerA)
	bill := billForCustomer(t, env, ownerA, 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.invoices.GenerateInvoice(ctx, ownerA, bill.ID)
		}(i)
	}
	wg.Wait()

	var ok, exists int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, core.ErrInvoiceExists):
			exists++
		default:
			t.Fatalf("unexpected error from racing GenerateInvoice: %v", err)
		}
	}
	if ok != 1 || exists != 1 {
		t.Fatalf("expected one issued invoice and one ErrInvoiceExists, got ok=%d exists=%d", ok, exists)
	}
}

func TestDeleteBill(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)
	ctx := context.Background()

	deliver(t, env, ownerA, 1, 10, 500, day(5))
	generateOneBill(t, env, ownerA)
	bill := billForCustomer(t, env, ownerA, 1)

	if _, err := env.payments.RecordPayment(ctx, ownerA, bill.ID, decimal.NewFromInt(2000), day(20), "cash", ""); err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}

	if err := env.bills.DeleteBill(ctx, ownerA, bill.ID); err != nil {
		t.Fatalf("DeleteBill failed: %v", err)
	}

	if _, err := env.bills.GetBill(ctx, ownerA, bill.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("deleted bill still readable: %v", err)
	}

	var orphans int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM payments WHERE bill_id = $1", bill.ID).Scan(&orphans); err != nil {
		t.Fatalf("orphan check failed: %v", err)
	}
	if orphans != 0 {
		t.Fatalf("%d orphaned payments left behind", orphans)
	}

	// The audit trail outlives the bill: generation, payment, deletion.
	logs, err := env.logs.ListLogs(ctx, ownerA, 10)
	if err != nil {
		t.Fatalf("ListLogs failed: %v", err)
	}
	kinds := map[core.LogKind]bool{}
	for _, l := range logs {
		kinds[l.Kind] = true
	}
	for _, want := range []core.LogKind{core.LogBillGenerated, core.LogPaymentReceived, core.LogBillDeleted} {
		if !kinds[want] {
			t.Fatalf("missing %s audit row; got %v", want, kinds)
		}
	}
}

func TestDeletePaymentAuditKind(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)
	ctx := context.Background()

	deliver(t, env, ownerA, 1, 10, 500, day(5))
	generateOneBill(t, env, ownerA)
	bill := billForCustomer(t, env, ownerA, 1)

	payment, err := env.payments.RecordPayment(ctx, ownerA, bill.ID, decimal.NewFromInt(1000), day(20), "cash", "")
	if err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}
	if err := env.payments.DeletePayment(ctx, ownerA, payment.ID); err != nil {
		t.Fatalf("DeletePayment failed: %v", err)
	}

	logs, err := env.logs.ListLogs(ctx, ownerA, 10)
	if err != nil {
		t.Fatalf("ListLogs failed: %v", err)
	}
	found := false
	for _, l := range logs {
		if l.Kind == core.LogPaymentDeleted && l.Amount.Equal(decimal.NewFromInt(1000)) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a PAYMENT_DELETED audit row carrying the deleted amount")
	}
}

func TestLenientCustomerResolution(t *testing.T) {
	pool := setupTestDB(t)
	env := newTestEnv(pool)
	ctx := context.Background()

	// A legacy composite reference that resolves.
	e, err := env.deliveries.RecordDelivery(ctx, ownerA, core.DeliveryInput{
		CustomerRef:   "C-001 · Rahman Traders",
		Kind:          core.MovementDelivered,
		Quantity:      2,
		UnitPrice:     decimal.NewFromInt(500),
		DeliveryDate:  day(5),
		CylinderLabel: "12kg",
	})
	if err != nil {
		t.Fatalf("RecordDelivery with composite ref failed: %v", err)
	}
	if e.CustomerID == nil || *e.CustomerID != 1 {
		t.Fatalf("composite ref should resolve to customer 1, got %v", e.CustomerID)
	}

	// An unresolvable reference stores a null customer instead of failing.
	e, err = env.deliveries.RecordDelivery(ctx, ownerA, core.DeliveryInput{
		CustomerRef:   "C-999 · Nobody Here",
		Kind:          core.MovementDelivered,
		Quantity:      1,
		UnitPrice:     decimal.NewFromInt(500),
		DeliveryDate:  day(5),
		CylinderLabel: "12kg",
	})
	if err != nil {
		t.Fatalf("RecordDelivery with unknown ref failed: %v", err)
	}
	if e.CustomerID != nil {
		t.Fatalf("unknown ref should leave customer nil, got %v", *e.CustomerID)
	}
	if e.CustomerLabel != "C-999 · Nobody Here" {
		t.Fatalf("raw label not preserved: %q", e.CustomerLabel)
	}
}
