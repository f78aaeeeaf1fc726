package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BillSyncNotifier is told about ledger and payment mutations so that bill
// totals stay consistent with the delivery ledger without a manual
// regeneration. Injected into the delivery and payment services.
type BillSyncNotifier interface {
	// ResyncBillsForCustomer re-aggregates the customer's bills whose period
	// covers the given date.
	ResyncBillsForCustomer(ctx context.Context, adminID, customerID int64, periodHint time.Time) error

	// ResyncBillsForMonth re-aggregates every bill in the tenant whose period
	// covers the given month.
	ResyncBillsForMonth(ctx context.Context, adminID int64, month time.Time) error
}

type billResyncer struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewBillResyncer constructs the default BillSyncNotifier. It refreshes
// current_month_bill and cylinders on existing bills from the delivery ledger.
// Invoiced bills are left untouched: their figures are frozen.
func NewBillResyncer(pool *pgxpool.Pool, logger *slog.Logger) BillSyncNotifier {
	return &billResyncer{pool: pool, logger: logger}
}

func (r *billResyncer) ResyncBillsForCustomer(ctx context.Context, adminID, customerID int64, periodHint time.Time) error {
	return r.resync(ctx, adminID, &customerID, periodHint)
}

func (r *billResyncer) ResyncBillsForMonth(ctx context.Context, adminID int64, month time.Time) error {
	return r.resync(ctx, adminID, nil, month)
}

func (r *billResyncer) resync(ctx context.Context, adminID int64, customerID *int64, date time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin resync transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the affected bills, skipping any frozen by an invoice.
	rows, err := tx.Query(ctx, `
		SELECT b.id, b.customer_id, b.bill_start, b.bill_end
		FROM bills b
		LEFT JOIN invoices i ON i.bill_id = b.id
		WHERE b.admin_id = $1
		  AND ($2::bigint IS NULL OR b.customer_id = $2)
		  AND b.bill_start <= $3 AND b.bill_end >= $3
		  AND i.id IS NULL
		FOR UPDATE OF b`,
		adminID, customerID, date,
	)
	if err != nil {
		return fmt.Errorf("failed to select bills for resync: %w", err)
	}

	type target struct {
		billID     int64
		customerID int64
		start, end time.Time
	}
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.billID, &t.customerID, &t.start, &t.end); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan resync target: %w", err)
		}
		targets = append(targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, t := range targets {
		tag, err := tx.Exec(ctx, `
			UPDATE bills SET
				current_month_bill = agg.amount,
				cylinders = agg.qty
			FROM (
				SELECT COALESCE(SUM(amount), 0) AS amount, COALESCE(SUM(quantity), 0) AS qty
				FROM delivery_entries
				WHERE admin_id = $1 AND customer_id = $2 AND kind = 'DELIVERED'
				  AND delivery_date >= $3 AND delivery_date <= $4
			) agg
			WHERE bills.id = $5`,
			adminID, t.customerID, t.start, t.end, t.billID,
		)
		if err != nil {
			return fmt.Errorf("failed to resync bill %d: %w", t.billID, err)
		}
		if tag.RowsAffected() > 0 {
			r.logger.Info("resynced bill from delivery ledger",
				"bill_id", t.billID, "customer_id", t.customerID, "admin_id", adminID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit resync: %w", err)
	}
	return nil
}
