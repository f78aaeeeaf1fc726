package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// customerRefSeparator joins code and name in legacy composite references,
// e.g. "C-014 · Rahman Traders".
const customerRefSeparator = "·"

// ParseCustomerRef splits a legacy "<code> · <name>" composite reference.
// A reference without the separator is treated as a bare name.
func ParseCustomerRef(ref string) (code, name string, hasCode bool) {
	before, after, found := strings.Cut(ref, customerRefSeparator)
	if !found {
		return "", strings.TrimSpace(ref), false
	}
	return strings.TrimSpace(before), strings.TrimSpace(after), true
}

// CustomerService manages customer master data within tenant scope.
type CustomerService interface {
	CreateCustomer(ctx context.Context, p Principal, code, name, phone, address string) (*Customer, error)
	GetCustomers(ctx context.Context, p Principal) ([]Customer, error)
	GetCustomer(ctx context.Context, p Principal, id int64) (*Customer, error)

	// ResolveCustomerRef resolves a legacy composite reference within tenant
	// scope: first by (code, name), then by name alone. Returns (nil, nil)
	// when nothing matches; delivery writes keep a null customer reference
	// rather than failing, matching the historical lenient policy.
	ResolveCustomerRef(ctx context.Context, p Principal, ref string) (*Customer, error)
}

type customerService struct {
	pool *pgxpool.Pool
	dir  UserDirectory
}

// NewCustomerService constructs a CustomerService backed by PostgreSQL.
func NewCustomerService(pool *pgxpool.Pool, dir UserDirectory) CustomerService {
	return &customerService{pool: pool, dir: dir}
}

func (s *customerService) CreateCustomer(ctx context.Context, p Principal, code, name, phone, address string) (*Customer, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(code) == "" {
		return nil, &ValidationError{Field: "code", Reason: "must not be empty"}
	}

	adminID, err := TenantIDForCreate(ctx, p, s.dir)
	if err != nil {
		return nil, err
	}

	var c Customer
	err = s.pool.QueryRow(ctx, `
		INSERT INTO customers (admin_id, code, name, phone, address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, admin_id, code, name, phone, address, created_at`,
		adminID, code, name, phone, address,
	).Scan(&c.ID, &c.AdminID, &c.Code, &c.Name, &c.Phone, &c.Address, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return &c, nil
}

func (s *customerService) GetCustomers(ctx context.Context, p Principal) ([]Customer, error) {
	where, args := TenantFilter(p).AppendSQL("admin_id", nil, nil)
	query := `
		SELECT id, admin_id, code, name, phone, address, created_at
		FROM customers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY code"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.AdminID, &c.Code, &c.Name, &c.Phone, &c.Address, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *customerService) GetCustomer(ctx context.Context, p Principal, id int64) (*Customer, error) {
	where, args := []string{"id = $1"}, []any{id}
	where, args = TenantFilter(p).AppendSQL("admin_id", where, args)

	var c Customer
	err := s.pool.QueryRow(ctx, `
		SELECT id, admin_id, code, name, phone, address, created_at
		FROM customers
		WHERE `+strings.Join(where, " AND "),
		args...,
	).Scan(&c.ID, &c.AdminID, &c.Code, &c.Name, &c.Phone, &c.Address, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch customer id=%d: %w", id, err)
	}
	return &c, nil
}

func (s *customerService) ResolveCustomerRef(ctx context.Context, p Principal, ref string) (*Customer, error) {
	code, name, hasCode := ParseCustomerRef(ref)
	if name == "" && code == "" {
		return nil, nil
	}

	scope := TenantFilter(p)

	if hasCode {
		if c, err := s.lookup(ctx, scope, "code = $1 AND name = $2", code, name); err != nil {
			return nil, err
		} else if c != nil {
			return c, nil
		}
	}

	// Fallback: name-only match. Ambiguity resolves to the oldest customer.
	return s.lookup(ctx, scope, "name = $1", name)
}

func (s *customerService) lookup(ctx context.Context, scope Scope, cond string, condArgs ...any) (*Customer, error) {
	where, args := []string{cond}, condArgs
	where, args = scope.AppendSQL("admin_id", where, args)

	var c Customer
	err := s.pool.QueryRow(ctx, `
		SELECT id, admin_id, code, name, phone, address, created_at
		FROM customers
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY id
		LIMIT 1`,
		args...,
	).Scan(&c.ID, &c.AdminID, &c.Code, &c.Name, &c.Phone, &c.Address, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("customer lookup failed: %w", err)
	}
	return &c, nil
}
