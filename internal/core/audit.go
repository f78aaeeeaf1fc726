package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// appendLog inserts an audit trail row inside the caller's transaction so the
// log commits or rolls back together with the triggering write.
func appendLog(ctx context.Context, tx pgx.Tx, adminID int64, customerID, billID *int64, kind LogKind, amount decimal.Decimal, details string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_logs (admin_id, customer_id, bill_id, kind, amount, details)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		adminID, customerID, billID, kind, amount, details,
	)
	if err != nil {
		return fmt.Errorf("failed to append %s log: %w", kind, err)
	}
	return nil
}

// LogService reads the append-only billing audit trail.
type LogService interface {
	// ListLogs returns the most recent audit rows within tenant scope.
	ListLogs(ctx context.Context, p Principal, limit int) ([]PaymentLog, error)
}

type logService struct {
	pool *pgxpool.Pool
}

// NewLogService constructs a LogService backed by PostgreSQL.
func NewLogService(pool *pgxpool.Pool) LogService {
	return &logService{pool: pool}
}

func (s *logService) ListLogs(ctx context.Context, p Principal, limit int) ([]PaymentLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	where, args := TenantFilter(p).AppendSQL("admin_id", nil, nil)
	query := `
		SELECT id, admin_id, customer_id, bill_id, kind, amount, details, created_at
		FROM payment_logs`
	if len(where) > 0 {
		query += " WHERE " + where[0]
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment logs: %w", err)
	}
	defer rows.Close()

	var logs []PaymentLog
	for rows.Next() {
		var l PaymentLog
		if err := rows.Scan(&l.ID, &l.AdminID, &l.CustomerID, &l.BillID, &l.Kind, &l.Amount, &l.Details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
