package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// billReader is satisfied by both *pgxpool.Pool and pgx.Tx.
type billReader interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const billColumns = "id, admin_id, customer_id, bill_start, bill_end, last_month_remaining, current_month_bill, cylinders, created_at"

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.AdminID, &b.CustomerID, &b.BillStart, &b.BillEnd,
		&b.LastMonthRemaining, &b.CurrentMonthBill, &b.Cylinders, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan bill: %w", err)
	}
	return &b, nil
}

// fetchBill loads a bill with its payments and invoice, applying tenant scope.
func fetchBill(ctx context.Context, q billReader, scope Scope, id int64) (*Bill, error) {
	where, args := []string{"id = $1"}, []any{id}
	where, args = scope.AppendSQL("admin_id", where, args)

	bill, err := scanBill(q.QueryRow(ctx,
		"SELECT "+billColumns+" FROM bills WHERE "+strings.Join(where, " AND "), args...))
	if err != nil {
		return nil, err
	}
	return hydrateBill(ctx, q, bill)
}

// lockBill loads a bill inside tx with its row locked, serializing concurrent
// financial mutations on the same bill.
func lockBill(ctx context.Context, tx pgx.Tx, scope Scope, id int64) (*Bill, error) {
	where, args := []string{"id = $1"}, []any{id}
	where, args = scope.AppendSQL("admin_id", where, args)

	bill, err := scanBill(tx.QueryRow(ctx,
		"SELECT "+billColumns+" FROM bills WHERE "+strings.Join(where, " AND ")+" FOR UPDATE", args...))
	if err != nil {
		return nil, err
	}
	return hydrateBill(ctx, tx, bill)
}

func hydrateBill(ctx context.Context, q billReader, bill *Bill) (*Bill, error) {
	payments, err := fetchPayments(ctx, q, bill.ID)
	if err != nil {
		return nil, err
	}
	bill.Payments = payments

	invoice, err := fetchInvoice(ctx, q, bill.ID)
	if err != nil {
		return nil, err
	}
	bill.Invoice = invoice
	return bill, nil
}

func fetchPayments(ctx context.Context, q billReader, billID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `
		SELECT id, admin_id, bill_id, amount, paid_on, method, notes, created_at
		FROM payments
		WHERE bill_id = $1
		ORDER BY paid_on, id`,
		billID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments for bill %d: %w", billID, err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.AdminID, &p.BillID, &p.Amount, &p.PaidOn, &p.Method, &p.Notes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func fetchInvoice(ctx context.Context, q billReader, billID int64) (*Invoice, error) {
	var inv Invoice
	err := q.QueryRow(ctx, `
		SELECT id, admin_id, bill_id, number, generated_at
		FROM invoices
		WHERE bill_id = $1`,
		billID,
	).Scan(&inv.ID, &inv.AdminID, &inv.BillID, &inv.Number, &inv.GeneratedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch invoice for bill %d: %w", billID, err)
	}
	return &inv, nil
}
