package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PaymentService is the single write path for payment rows. No other code in
// the repository inserts into payments; every other subsystem is read-only
// with respect to them, which is what keeps financial totals reconcilable.
type PaymentService interface {
	// RecordPayment applies a payment against a bill. Rejects when the bill
	// is invoice-locked or the amount exceeds the outstanding balance; the
	// balance is re-read under the bill's row lock so concurrent payments
	// cannot jointly overshoot it.
	RecordPayment(ctx context.Context, p Principal, billID int64, amount decimal.Decimal, paidOn time.Time, method, notes string) (*Payment, error)

	// DeletePayment removes a payment unless its bill is invoice-locked.
	DeletePayment(ctx context.Context, p Principal, paymentID int64) error
}

type paymentService struct {
	pool     *pgxpool.Pool
	notifier BillSyncNotifier
	logger   *slog.Logger
}

// NewPaymentService constructs a PaymentService backed by PostgreSQL.
func NewPaymentService(pool *pgxpool.Pool, notifier BillSyncNotifier, logger *slog.Logger) PaymentService {
	return &paymentService{pool: pool, notifier: notifier, logger: logger}
}

func (s *paymentService) RecordPayment(ctx context.Context, p Principal, billID int64, amount decimal.Decimal, paidOn time.Time, method, notes string) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if paidOn.IsZero() {
		return nil, &ValidationError{Field: "paid_on", Reason: "is required"}
	}
	if method == "" {
		method = "cash"
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	bill, err := lockBill(ctx, tx, TenantFilter(p), billID)
	if err != nil {
		return nil, err
	}
	if bill.Locked() {
		return nil, ErrBillLocked
	}

	totals := bill.Totals()
	if amount.GreaterThan(totals.Remaining) {
		return nil, &RuleViolation{
			Rule: RulePaymentExceedsRemaining,
			Message: fmt.Sprintf("cannot record payment of %s: remaining balance is %s",
				amount.StringFixed(2), totals.Remaining.StringFixed(2)),
			Attempted: amount,
			Limit:     totals.Remaining,
		}
	}

	var payment Payment
	err = tx.QueryRow(ctx, `
		INSERT INTO payments (admin_id, bill_id, amount, paid_on, method, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, admin_id, bill_id, amount, paid_on, method, notes, created_at`,
		bill.AdminID, bill.ID, amount, paidOn, method, notes,
	).Scan(&payment.ID, &payment.AdminID, &payment.BillID, &payment.Amount,
		&payment.PaidOn, &payment.Method, &payment.Notes, &payment.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	details := fmt.Sprintf("payment of %s via %s against bill %d", amount.StringFixed(2), method, bill.ID)
	if err := appendLog(ctx, tx, bill.AdminID, &bill.CustomerID, &bill.ID, LogPaymentReceived, amount, details); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}

	s.resync(ctx, bill)
	return &payment, nil
}

func (s *paymentService) DeletePayment(ctx context.Context, p Principal, paymentID int64) error {
	where, args := []string{"id = $1"}, []any{paymentID}
	where, args = TenantFilter(p).AppendSQL("admin_id", where, args)

	var billID int64
	err := s.pool.QueryRow(ctx,
		"SELECT bill_id FROM payments WHERE "+strings.Join(where, " AND "), args...,
	).Scan(&billID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch payment %d: %w", paymentID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	bill, err := lockBill(ctx, tx, TenantFilter(p), billID)
	if err != nil {
		return err
	}
	if bill.Locked() {
		return ErrBillLocked
	}

	var amount decimal.Decimal
	err = tx.QueryRow(ctx,
		"DELETE FROM payments WHERE id = $1 AND bill_id = $2 RETURNING amount",
		paymentID, bill.ID,
	).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete payment %d: %w", paymentID, err)
	}

	details := fmt.Sprintf("deleted payment %d of %s against bill %d", paymentID, amount.StringFixed(2), bill.ID)
	if err := appendLog(ctx, tx, bill.AdminID, &bill.CustomerID, &bill.ID, LogPaymentDeleted, amount, details); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit payment deletion: %w", err)
	}

	s.resync(ctx, bill)
	return nil
}

func (s *paymentService) resync(ctx context.Context, bill *Bill) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.ResyncBillsForCustomer(ctx, bill.AdminID, bill.CustomerID, bill.BillStart); err != nil {
		s.logger.Error("bill resync failed after payment mutation",
			"error", err, "bill_id", bill.ID, "customer_id", bill.CustomerID)
	}
}
