package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// CustomerFailure reports one customer whose bill generation failed. Sibling
// customers are unaffected; failures are collected, not propagated.
type CustomerFailure struct {
	CustomerID int64  `json:"customer_id"`
	Reason     string `json:"reason"`
}

// GenerateBillsResult summarizes one bulk generation run.
type GenerateBillsResult struct {
	Created  int               `json:"created"`
	Skipped  int               `json:"skipped"`
	Failures []CustomerFailure `json:"failures,omitempty"`
}

// BillFilter narrows ListBills.
type BillFilter struct {
	CustomerID  *int64
	PeriodStart *time.Time
}

// BillService aggregates the delivery ledger into periodic bills.
type BillService interface {
	// GenerateBills creates one bill per customer with non-zero DELIVERED
	// activity in [periodStart, periodEnd], carrying forward the unpaid
	// balance of each customer's most recent prior bill. Idempotent per
	// (customer, period); per-customer transactions run concurrently.
	GenerateBills(ctx context.Context, p Principal, periodStart, periodEnd time.Time) (*GenerateBillsResult, error)

	// GetBill returns a bill with its payments and invoice loaded.
	GetBill(ctx context.Context, p Principal, id int64) (*Bill, error)

	ListBills(ctx context.Context, p Principal, f BillFilter) ([]Bill, error)

	// DeleteBill removes an uninvoiced bill and all its payments, leaving a
	// BILL_DELETED audit row that preserves the figures.
	DeleteBill(ctx context.Context, p Principal, id int64) error
}

type billService struct {
	pool        *pgxpool.Pool
	customers   CustomerService
	dir         UserDirectory
	logger      *slog.Logger
	concurrency int
}

// NewBillService constructs a BillService backed by PostgreSQL. concurrency
// bounds the per-customer fan-out during bulk generation.
func NewBillService(pool *pgxpool.Pool, customers CustomerService, dir UserDirectory, logger *slog.Logger, concurrency int) BillService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &billService{pool: pool, customers: customers, dir: dir, logger: logger, concurrency: concurrency}
}

func (s *billService) GenerateBills(ctx context.Context, p Principal, periodStart, periodEnd time.Time) (*GenerateBillsResult, error) {
	if periodStart.IsZero() || periodEnd.IsZero() || !periodStart.Before(periodEnd) {
		return nil, &ValidationError{Field: "period", Reason: "start must precede end"}
	}

	adminID, err := TenantIDForCreate(ctx, p, s.dir)
	if err != nil {
		return nil, err
	}

	customers, err := s.customers.GetCustomers(ctx, p)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		result GenerateBillsResult
		wg     sync.WaitGroup
		sem    = make(chan struct{}, s.concurrency)
	)

	for _, c := range customers {
		if c.AdminID != adminID {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(customer Customer) {
			defer wg.Done()
			defer func() { <-sem }()

			created, err := s.generateOne(ctx, adminID, customer.ID, periodStart, periodEnd)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrDuplicateBill):
				// A racing run inserted the bill first; for this run that is
				// the same outcome as finding it up front.
				result.Skipped++
			case err != nil:
				result.Failures = append(result.Failures, CustomerFailure{CustomerID: customer.ID, Reason: err.Error()})
				s.logger.Error("bill generation failed", "error", err, "customer_id", customer.ID, "admin_id", adminID)
			case created:
				result.Created++
			default:
				result.Skipped++
			}
		}(c)
	}
	wg.Wait()

	s.logger.Info("bill generation run finished",
		"admin_id", adminID, "created", result.Created, "skipped", result.Skipped, "failed", len(result.Failures))
	return &result, nil
}

// generateOne creates the bill for a single customer inside one transaction.
// Returns false when the customer is skipped (already billed, or no activity).
func (s *billService) generateOne(ctx context.Context, adminID, customerID int64, periodStart, periodEnd time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM bills
		WHERE admin_id = $1 AND customer_id = $2 AND bill_start = $3 AND bill_end = $4`,
		adminID, customerID, periodStart, periodEnd,
	).Scan(&existing)
	if err == nil {
		return false, nil // already billed for this exact period
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("failed to check existing bill: %w", err)
	}

	var qty int
	var amount decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0), COALESCE(SUM(amount), 0)
		FROM delivery_entries
		WHERE admin_id = $1 AND customer_id = $2 AND kind = 'DELIVERED'
		  AND delivery_date >= $3 AND delivery_date <= $4`,
		adminID, customerID, periodStart, periodEnd,
	).Scan(&qty, &amount)
	if err != nil {
		return false, fmt.Errorf("failed to aggregate deliveries: %w", err)
	}
	if qty == 0 && amount.IsZero() {
		return false, nil // inactive customer, no bill
	}

	carried, err := s.priorRemaining(ctx, tx, adminID, customerID, periodStart)
	if err != nil {
		return false, err
	}

	var billID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO bills (admin_id, customer_id, bill_start, bill_end, last_month_remaining, current_month_bill, cylinders)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (admin_id, customer_id, bill_start, bill_end) DO NOTHING
		RETURNING id`,
		adminID, customerID, periodStart, periodEnd, carried, amount, qty,
	).Scan(&billID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent generation run inserted the bill between our
			// existence check and the insert.
			return false, ErrDuplicateBill
		}
		return false, fmt.Errorf("failed to insert bill: %w", err)
	}

	total := carried.Add(amount)
	details := fmt.Sprintf("bill for %s to %s: carried %s, current %s, cylinders %d",
		periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02"),
		carried.StringFixed(2), amount.StringFixed(2), qty)
	if err := appendLog(ctx, tx, adminID, &customerID, &billID, LogBillGenerated, total, details); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit bill: %w", err)
	}
	return true, nil
}

// priorRemaining computes max(priorTotal − priorPaid, 0) from the customer's
// most recent bill ending before periodStart, or zero if none exists.
func (s *billService) priorRemaining(ctx context.Context, tx pgx.Tx, adminID, customerID int64, periodStart time.Time) (decimal.Decimal, error) {
	var priorID int64
	var lastRemaining, currentBill decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT id, last_month_remaining, current_month_bill
		FROM bills
		WHERE admin_id = $1 AND customer_id = $2 AND bill_end < $3
		ORDER BY bill_end DESC
		LIMIT 1`,
		adminID, customerID, periodStart,
	).Scan(&priorID, &lastRemaining, &currentBill)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to find prior bill: %w", err)
	}

	var paid decimal.Decimal
	err = tx.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM payments WHERE bill_id = $1", priorID,
	).Scan(&paid)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum prior payments: %w", err)
	}

	remaining := lastRemaining.Add(currentBill).Sub(paid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return remaining, nil
}

func (s *billService) GetBill(ctx context.Context, p Principal, id int64) (*Bill, error) {
	return fetchBill(ctx, s.pool, TenantFilter(p), id)
}

func (s *billService) ListBills(ctx context.Context, p Principal, f BillFilter) ([]Bill, error) {
	var where []string
	var args []any
	where, args = TenantFilter(p).AppendSQL("b.admin_id", where, args)

	if f.CustomerID != nil {
		args = append(args, *f.CustomerID)
		where = append(where, fmt.Sprintf("b.customer_id = $%d", len(args)))
	}
	if f.PeriodStart != nil {
		args = append(args, *f.PeriodStart)
		where = append(where, fmt.Sprintf("b.bill_start = $%d", len(args)))
	}

	query := `
		SELECT b.id, b.admin_id, b.customer_id, b.bill_start, b.bill_end,
			b.last_month_remaining, b.current_month_bill, b.cylinders, b.created_at,
			i.id, i.admin_id, i.bill_id, i.number, i.generated_at
		FROM bills b
		LEFT JOIN invoices i ON i.bill_id = b.id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY b.bill_start DESC, b.id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var bills []Bill
	for rows.Next() {
		var b Bill
		var invID, invAdmin, invBill *int64
		var invNumber *string
		var invAt *time.Time
		if err := rows.Scan(
			&b.ID, &b.AdminID, &b.CustomerID, &b.BillStart, &b.BillEnd,
			&b.LastMonthRemaining, &b.CurrentMonthBill, &b.Cylinders, &b.CreatedAt,
			&invID, &invAdmin, &invBill, &invNumber, &invAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		if invID != nil {
			b.Invoice = &Invoice{ID: *invID, AdminID: *invAdmin, BillID: *invBill, Number: *invNumber, GeneratedAt: *invAt}
		}
		bills = append(bills, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bills {
		payments, err := fetchPayments(ctx, s.pool, bills[i].ID)
		if err != nil {
			return nil, err
		}
		bills[i].Payments = payments
	}
	return bills, nil
}

func (s *billService) DeleteBill(ctx context.Context, p Principal, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	bill, err := lockBill(ctx, tx, TenantFilter(p), id)
	if err != nil {
		return err
	}
	if bill.Locked() {
		return ErrBillLocked
	}

	totals := bill.Totals()
	if _, err := tx.Exec(ctx, "DELETE FROM payments WHERE bill_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete payments for bill %d: %w", id, err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM bills WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete bill %d: %w", id, err)
	}

	// The audit row deliberately carries no bill reference: the bill is gone,
	// but the customer, period and figures survive for audit.
	details := fmt.Sprintf("deleted bill %d for %s to %s: total %s, paid %s",
		id, bill.BillStart.Format("2006-01-02"), bill.BillEnd.Format("2006-01-02"),
		totals.Total.StringFixed(2), totals.Paid.StringFixed(2))
	if err := appendLog(ctx, tx, bill.AdminID, &bill.CustomerID, nil, LogBillDeleted, totals.Total, details); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit bill deletion: %w", err)
	}
	return nil
}
