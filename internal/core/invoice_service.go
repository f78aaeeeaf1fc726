package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InvoiceService manages the 1:1 invoice lock on bills. While an invoice
// exists, the bill and its payments are frozen; deleting the invoice is the
// only way to unlock them.
type InvoiceService interface {
	// GenerateInvoice issues an invoice against a bill, assigning a number
	// from the tenant's yearly sequence.
	GenerateInvoice(ctx context.Context, p Principal, billID int64) (*Invoice, error)

	// DeleteInvoice withdraws an invoice, unlocking the bill.
	DeleteInvoice(ctx context.Context, p Principal, invoiceID int64) error
}

type invoiceService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewInvoiceService constructs an InvoiceService backed by PostgreSQL.
func NewInvoiceService(pool *pgxpool.Pool, logger *slog.Logger) InvoiceService {
	return &invoiceService{pool: pool, logger: logger, now: time.Now}
}

func (s *invoiceService) GenerateInvoice(ctx context.Context, p Principal, billID int64) (*Invoice, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	bill, err := lockBill(ctx, tx, TenantFilter(p), billID)
	if err != nil {
		return nil, err
	}
	if bill.Invoice != nil {
		return nil, ErrInvoiceExists
	}

	number, err := s.nextNumber(ctx, tx, bill.AdminID)
	if err != nil {
		return nil, err
	}

	var inv Invoice
	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (admin_id, bill_id, number)
		VALUES ($1, $2, $3)
		RETURNING id, admin_id, bill_id, number, generated_at`,
		bill.AdminID, bill.ID, number,
	).Scan(&inv.ID, &inv.AdminID, &inv.BillID, &inv.Number, &inv.GeneratedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Unique bill_id tripped: a racing call issued the invoice first.
			return nil, ErrInvoiceExists
		}
		return nil, fmt.Errorf("failed to insert invoice: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit invoice: %w", err)
	}

	s.logger.Info("invoice generated", "invoice", inv.Number, "bill_id", bill.ID, "admin_id", bill.AdminID)
	return &inv, nil
}

// nextNumber advances the tenant's yearly invoice sequence under a row lock
// and formats the invoice number, e.g. INV-2026-0007.
func (s *invoiceService) nextNumber(ctx context.Context, tx pgx.Tx, adminID int64) (string, error) {
	year := s.now().Year()

	var n int64
	err := tx.QueryRow(ctx, `
		INSERT INTO invoice_sequences (admin_id, year, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (admin_id, year)
		DO UPDATE SET last_number = invoice_sequences.last_number + 1
		RETURNING last_number`,
		adminID, year,
	).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("failed to advance invoice sequence: %w", err)
	}
	return fmt.Sprintf("INV-%d-%04d", year, n), nil
}

func (s *invoiceService) DeleteInvoice(ctx context.Context, p Principal, invoiceID int64) error {
	where, args := []string{"id = $1"}, []any{invoiceID}
	where, args = TenantFilter(p).AppendSQL("admin_id", where, args)

	var number string
	err := s.pool.QueryRow(ctx,
		"DELETE FROM invoices WHERE "+strings.Join(where, " AND ")+" RETURNING number",
		args...,
	).Scan(&number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete invoice %d: %w", invoiceID, err)
	}

	s.logger.Info("invoice withdrawn, bill unlocked", "invoice", number)
	return nil
}
