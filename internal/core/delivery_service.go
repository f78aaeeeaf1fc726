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

// DeliveryInput is the operator-supplied data for recording or editing a
// cylinder movement. CustomerID takes precedence; CustomerRef is the legacy
// "<code> · <name>" composite accepted for backward compatibility.
type DeliveryInput struct {
	CustomerID    *int64
	CustomerRef   string
	Kind          MovementKind
	Quantity      int
	UnitPrice     decimal.Decimal
	CylinderLabel string
	DeliveryDate  time.Time
	Verified      bool

	EmptiesReceived int
	PaymentType     string
	PaymentAmount   decimal.Decimal
	PaymentReceiver string
}

// DeliveryFilter narrows ListDeliveries.
type DeliveryFilter struct {
	CustomerID *int64
	Kind       *MovementKind
	From       *time.Time
	To         *time.Time
}

// DeliveryService manages the append-mostly cylinder movement ledger.
type DeliveryService interface {
	RecordDelivery(ctx context.Context, p Principal, in DeliveryInput) (*DeliveryEntry, error)
	UpdateDelivery(ctx context.Context, p Principal, id int64, in DeliveryInput) (*DeliveryEntry, error)

	// DeleteDelivery removes an entry. Deleting a DELIVERED entry also removes
	// every RECEIVED entry of the same tenant, calendar day, cylinder label
	// and unit price whose customer matches, all in one transaction.
	DeleteDelivery(ctx context.Context, p Principal, id int64) error

	ListDeliveries(ctx context.Context, p Principal, f DeliveryFilter) ([]DeliveryEntry, error)
}

type deliveryService struct {
	pool      *pgxpool.Pool
	customers CustomerService
	dir       UserDirectory
	notifier  BillSyncNotifier
	logger    *slog.Logger
}

// NewDeliveryService constructs a DeliveryService backed by PostgreSQL.
func NewDeliveryService(pool *pgxpool.Pool, customers CustomerService, dir UserDirectory, notifier BillSyncNotifier, logger *slog.Logger) DeliveryService {
	return &deliveryService{pool: pool, customers: customers, dir: dir, notifier: notifier, logger: logger}
}

func (in DeliveryInput) validate() error {
	if in.Kind != MovementDelivered && in.Kind != MovementReceived {
		return &ValidationError{Field: "kind", Reason: "must be DELIVERED or RECEIVED"}
	}
	if in.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be a positive integer"}
	}
	if in.UnitPrice.IsNegative() {
		return &ValidationError{Field: "unit_price", Reason: "must not be negative"}
	}
	if in.DeliveryDate.IsZero() {
		return &ValidationError{Field: "delivery_date", Reason: "is required"}
	}
	return nil
}

// resolveCustomer returns the customer id for the input, or nil when the
// legacy reference does not resolve (lenient policy: the entry is stored with
// a null customer reference instead of rejecting the write).
func (s *deliveryService) resolveCustomer(ctx context.Context, p Principal, adminID int64, in DeliveryInput) (*int64, error) {
	if in.CustomerID != nil {
		c, err := s.customers.GetCustomer(ctx, p, *in.CustomerID)
		if err != nil {
			return nil, err
		}
		if c.AdminID != adminID {
			return nil, ErrNotFound
		}
		return &c.ID, nil
	}
	if in.CustomerRef == "" {
		return nil, nil
	}
	c, err := s.customers.ResolveCustomerRef(ctx, p, in.CustomerRef)
	if err != nil {
		return nil, err
	}
	if c == nil {
		s.logger.Warn("customer reference did not resolve, storing entry without customer",
			"ref", in.CustomerRef, "admin_id", adminID)
		return nil, nil
	}
	return &c.ID, nil
}

// checkReceivedQuota enforces Σ received ≤ Σ delivered for the customer inside
// the caller's transaction. The customer row is locked first so two concurrent
// RECEIVED writes for the same customer serialize instead of both passing the
// check. excludeID skips the entry being edited.
func checkReceivedQuota(ctx context.Context, tx pgx.Tx, adminID, customerID int64, excludeID int64, newQuantity int) error {
	var locked int64
	if err := tx.QueryRow(ctx,
		"SELECT id FROM customers WHERE id = $1 AND admin_id = $2 FOR UPDATE",
		customerID, adminID,
	).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock customer %d: %w", customerID, err)
	}

	var delivered, received int64
	err := tx.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(quantity) FILTER (WHERE kind = 'DELIVERED'), 0),
			COALESCE(SUM(quantity) FILTER (WHERE kind = 'RECEIVED' AND id <> $3), 0)
		FROM delivery_entries
		WHERE admin_id = $1 AND customer_id = $2`,
		adminID, customerID, excludeID,
	).Scan(&delivered, &received)
	if err != nil {
		return fmt.Errorf("failed to aggregate cylinder totals: %w", err)
	}

	if received+int64(newQuantity) > delivered {
		return &RuleViolation{
			Rule: RuleReceivedExceedsDelivered,
			Message: fmt.Sprintf("cannot receive %d cylinders: total received (%d) would exceed total delivered (%d)",
				newQuantity, received+int64(newQuantity), delivered),
			Attempted: decimal.NewFromInt(received + int64(newQuantity)),
			Limit:     decimal.NewFromInt(delivered),
		}
	}
	return nil
}

func (s *deliveryService) RecordDelivery(ctx context.Context, p Principal, in DeliveryInput) (*DeliveryEntry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	adminID, err := TenantIDForCreate(ctx, p, s.dir)
	if err != nil {
		return nil, err
	}

	customerID, err := s.resolveCustomer(ctx, p, adminID, in)
	if err != nil {
		return nil, err
	}

	amount := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if in.Kind == MovementReceived && customerID != nil {
		if err := checkReceivedQuota(ctx, tx, adminID, *customerID, 0, in.Quantity); err != nil {
			return nil, err
		}
	}

	var e DeliveryEntry
	err = tx.QueryRow(ctx, `
		INSERT INTO delivery_entries
			(admin_id, customer_id, customer_label, kind, quantity, unit_price, amount,
			 cylinder_label, delivery_date, verified, empties_received, payment_type,
			 payment_amount, payment_receiver)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, admin_id, customer_id, customer_label, kind, quantity, unit_price,
			amount, cylinder_label, delivery_date, verified, empties_received,
			payment_type, payment_amount, payment_receiver, created_at`,
		adminID, customerID, in.CustomerRef, in.Kind, in.Quantity, in.UnitPrice, amount,
		in.CylinderLabel, in.DeliveryDate, in.Verified, in.EmptiesReceived, in.PaymentType,
		in.PaymentAmount, in.PaymentReceiver,
	).Scan(
		&e.ID, &e.AdminID, &e.CustomerID, &e.CustomerLabel, &e.Kind, &e.Quantity, &e.UnitPrice,
		&e.Amount, &e.CylinderLabel, &e.DeliveryDate, &e.Verified, &e.EmptiesReceived,
		&e.PaymentType, &e.PaymentAmount, &e.PaymentReceiver, &e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert delivery entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit delivery entry: %w", err)
	}

	s.resync(ctx, adminID, customerID, in.DeliveryDate)
	return &e, nil
}

func (s *deliveryService) UpdateDelivery(ctx context.Context, p Principal, id int64, in DeliveryInput) (*DeliveryEntry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	existing, err := s.getEntry(ctx, s.pool, p, id)
	if err != nil {
		return nil, err
	}

	customerID, err := s.resolveCustomer(ctx, p, existing.AdminID, in)
	if err != nil {
		return nil, err
	}

	amount := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if in.Kind == MovementReceived && customerID != nil {
		if err := checkReceivedQuota(ctx, tx, existing.AdminID, *customerID, id, in.Quantity); err != nil {
			return nil, err
		}
	}

	var e DeliveryEntry
	err = tx.QueryRow(ctx, `
		UPDATE delivery_entries SET
			customer_id = $1, customer_label = $2, kind = $3, quantity = $4,
			unit_price = $5, amount = $6, cylinder_label = $7, delivery_date = $8,
			verified = $9, empties_received = $10, payment_type = $11,
			payment_amount = $12, payment_receiver = $13
		WHERE id = $14 AND admin_id = $15
		RETURNING id, admin_id, customer_id, customer_label, kind, quantity, unit_price,
			amount, cylinder_label, delivery_date, verified, empties_received,
			payment_type, payment_amount, payment_receiver, created_at`,
		customerID, in.CustomerRef, in.Kind, in.Quantity, in.UnitPrice, amount,
		in.CylinderLabel, in.DeliveryDate, in.Verified, in.EmptiesReceived,
		in.PaymentType, in.PaymentAmount, in.PaymentReceiver,
		id, existing.AdminID,
	).Scan(
		&e.ID, &e.AdminID, &e.CustomerID, &e.CustomerLabel, &e.Kind, &e.Quantity, &e.UnitPrice,
		&e.Amount, &e.CylinderLabel, &e.DeliveryDate, &e.Verified, &e.EmptiesReceived,
		&e.PaymentType, &e.PaymentAmount, &e.PaymentReceiver, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update delivery entry %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit delivery update: %w", err)
	}

	// Re-aggregate both the original month and, if the entry moved, the new one.
	s.resync(ctx, existing.AdminID, existing.CustomerID, existing.DeliveryDate)
	if !sameMonth(existing.DeliveryDate, in.DeliveryDate) || !sameCustomer(existing.CustomerID, customerID) {
		s.resync(ctx, existing.AdminID, customerID, in.DeliveryDate)
	}
	return &e, nil
}

func (s *deliveryService) DeleteDelivery(ctx context.Context, p Principal, id int64) error {
	entry, err := s.getEntry(ctx, s.pool, p, id)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"DELETE FROM delivery_entries WHERE id = $1 AND admin_id = $2",
		id, entry.AdminID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete delivery entry %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if entry.Kind == MovementDelivered {
		if err := s.cascadeReceived(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delivery deletion: %w", err)
	}

	s.resync(ctx, entry.AdminID, entry.CustomerID, entry.DeliveryDate)
	return nil
}

// cascadeReceived removes the RECEIVED entries that mirror a deleted DELIVERED
// entry: same tenant, same calendar day, same cylinder label, same unit price,
// customer matching by id, or by either form of the customer name for rows
// whose legacy reference never resolved. An empty label never identifies a
// customer and must not match anything.
func (s *deliveryService) cascadeReceived(ctx context.Context, tx pgx.Tx, entry *DeliveryEntry) error {
	var labels []string
	if entry.CustomerLabel != "" {
		labels = append(labels, entry.CustomerLabel)
	}
	if entry.CustomerID != nil {
		var code, name string
		err := tx.QueryRow(ctx,
			"SELECT code, name FROM customers WHERE id = $1", *entry.CustomerID,
		).Scan(&code, &name)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to load customer for cascade: %w", err)
		}
		if err == nil {
			labels = append(labels, name, code+" "+customerRefSeparator+" "+name)
		}
	}
	if entry.CustomerID == nil && len(labels) == 0 {
		return nil
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM delivery_entries
		WHERE admin_id = $1
		  AND kind = 'RECEIVED'
		  AND delivery_date = $2
		  AND cylinder_label = $3
		  AND unit_price = $4
		  AND (($5::bigint IS NOT NULL AND customer_id = $5)
		       OR (customer_id IS NULL AND customer_label = ANY($6)))`,
		entry.AdminID, entry.DeliveryDate, entry.CylinderLabel, entry.UnitPrice,
		entry.CustomerID, labels,
	)
	if err != nil {
		return fmt.Errorf("failed to cascade-delete received entries: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("cascade-deleted received entries",
			"count", n, "delivered_entry", entry.ID, "date", entry.DeliveryDate.Format("2006-01-02"))
	}
	return nil
}

func (s *deliveryService) ListDeliveries(ctx context.Context, p Principal, f DeliveryFilter) ([]DeliveryEntry, error) {
	var where []string
	var args []any
	where, args = TenantFilter(p).AppendSQL("admin_id", where, args)

	if f.CustomerID != nil {
		args = append(args, *f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.Kind != nil {
		args = append(args, *f.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("delivery_date >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("delivery_date <= $%d", len(args)))
	}

	query := `
		SELECT id, admin_id, customer_id, customer_label, kind, quantity, unit_price,
			amount, cylinder_label, delivery_date, verified, empties_received,
			payment_type, payment_amount, payment_receiver, created_at
		FROM delivery_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY delivery_date DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery entries: %w", err)
	}
	defer rows.Close()

	var entries []DeliveryEntry
	for rows.Next() {
		var e DeliveryEntry
		if err := rows.Scan(
			&e.ID, &e.AdminID, &e.CustomerID, &e.CustomerLabel, &e.Kind, &e.Quantity, &e.UnitPrice,
			&e.Amount, &e.CylinderLabel, &e.DeliveryDate, &e.Verified, &e.EmptiesReceived,
			&e.PaymentType, &e.PaymentAmount, &e.PaymentReceiver, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *deliveryService) getEntry(ctx context.Context, q pgxQuerier, p Principal, id int64) (*DeliveryEntry, error) {
	where, args := []string{"id = $1"}, []any{id}
	where, args = TenantFilter(p).AppendSQL("admin_id", where, args)

	var e DeliveryEntry
	err := q.QueryRow(ctx, `
		SELECT id, admin_id, customer_id, customer_label, kind, quantity, unit_price,
			amount, cylinder_label, delivery_date, verified, empties_received,
			payment_type, payment_amount, payment_receiver, created_at
		FROM delivery_entries
		WHERE `+strings.Join(where, " AND "),
		args...,
	).Scan(
		&e.ID, &e.AdminID, &e.CustomerID, &e.CustomerLabel, &e.Kind, &e.Quantity, &e.UnitPrice,
		&e.Amount, &e.CylinderLabel, &e.DeliveryDate, &e.Verified, &e.EmptiesReceived,
		&e.PaymentType, &e.PaymentAmount, &e.PaymentReceiver, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch delivery entry %d: %w", id, err)
	}
	return &e, nil
}

// resync notifies the bill-sync collaborator after a committed mutation.
// Failures are logged, never propagated: the ledger write already succeeded.
func (s *deliveryService) resync(ctx context.Context, adminID int64, customerID *int64, date time.Time) {
	if s.notifier == nil || customerID == nil {
		return
	}
	if err := s.notifier.ResyncBillsForCustomer(ctx, adminID, *customerID, date); err != nil {
		s.logger.Error("bill resync failed", "error", err, "admin_id", adminID, "customer_id", *customerID)
	}
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func sameCustomer(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
