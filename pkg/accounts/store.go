package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/auth"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrUniqueViolation is returned when an insert or update collides with a
// uniqueness constraint. The reconciler treats it on the create path as
// "the row now exists" and re-reads.
var ErrUniqueViolation = errors.New("unique constraint violation")

// pqUniqueViolation is the PostgreSQL error code for unique_violation.
const pqUniqueViolation = "23505"

// Store gives transactional access to users, groups, virtual organizations
// and memberships on PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, username, email, first_name, last_name, eduperson_unique_id,
	       created_at, updated_at, last_login_at`

func scanUser(row *sql.Row) (*auth.User, error) {
	user := &auth.User{}
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.FirstName, &user.LastName,
		&user.FederationID, &user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

// UserByFederationID looks up a user by the eduperson_unique_id claim.
func (s *Store) UserByFederationID(ctx context.Context, federationID string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE eduperson_unique_id = $1
	`, federationID)
	return scanUser(row)
}

// UserByUsername looks up a user by username.
func (s *Store) UserByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1
	`, username)
	return scanUser(row)
}

// UserByEmail looks up a user by email address.
func (s *Store) UserByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email)
	return scanUser(row)
}

// CreateUser inserts a new user and fills in its generated fields. A
// collision on username or eduperson_unique_id yields ErrUniqueViolation.
func (s *Store) CreateUser(ctx context.Context, user *auth.User) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, first_name, last_name, eduperson_unique_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, user.Username, user.Email, user.FirstName, user.LastName, user.FederationID).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create user %s: %w", user.Username, ErrUniqueViolation)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdateUser persists the mutable attribute fields of an existing user.
// The federation id is immutable and never written.
func (s *Store) UpdateUser(ctx context.Context, user *auth.User) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET username = $1, email = $2, first_name = $3, last_name = $4, updated_at = NOW()
		WHERE id = $5
	`, user.Username, user.Email, user.FirstName, user.LastName, user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to update user %d: %w", user.ID, ErrUniqueViolation)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("failed to update user %d: %w", user.ID, ErrNotFound)
	}
	return nil
}

// TouchLastLogin records a successful login on the user row.
func (s *Store) TouchLastLogin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = NOW() WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}
