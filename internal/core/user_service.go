package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared
// query helpers inside and outside transactions.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type userDirectory struct {
	pool *pgxpool.Pool
}

// NewUserDirectory constructs a UserDirectory backed by PostgreSQL.
func NewUserDirectory(pool *pgxpool.Pool) UserDirectory {
	return &userDirectory{pool: pool}
}

func (s *userDirectory) GetByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, admin_id, username, password_hash, role, created_at
		FROM users
		WHERE username = $1
		LIMIT 1`,
		username,
	).Scan(&u.ID, &u.AdminID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch user %q: %w", username, err)
	}
	return u, nil
}

func (s *userDirectory) GetByID(ctx context.Context, userID int64) (*User, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, admin_id, username, password_hash, role, created_at
		FROM users
		WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.AdminID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch user id=%d: %w", userID, err)
	}
	return u, nil
}

func (s *userDirectory) EarliestOwnerID(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM users
		WHERE role = 'owner'
		ORDER BY created_at, id
		LIMIT 1`,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNoTenantOwner
		}
		return 0, fmt.Errorf("failed to find earliest owner: %w", err)
	}
	return id, nil
}
