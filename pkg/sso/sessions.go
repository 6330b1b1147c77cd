package sso

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/accounts"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/auth"
)

// Session is a logged-in AAI session row.
type Session struct {
	ID           string
	UserID       int64
	FederationID string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// LastLoginRecorder marks a successful login on the user row.
type LastLoginRecorder interface {
	TouchLastLogin(ctx context.Context, userID int64) error
}

// SessionManager stores sessions in the aai_sessions table.
type SessionManager struct {
	db    *sql.DB
	users LastLoginRecorder
	ttl   time.Duration
}

// NewSessionManager creates a session manager with the given session
// lifetime.
func NewSessionManager(db *sql.DB, users LastLoginRecorder, ttl time.Duration) *SessionManager {
	return &SessionManager{db: db, users: users, ttl: ttl}
}

// TTL returns the configured session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Establish creates a session for the user and records the login time.
func (m *SessionManager) Establish(ctx context.Context, user *auth.User) (string, error) {
	id, err := newSessionID()
	if err != nil {
		return "", err
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO aai_sessions (id, user_id, eduperson_unique_id, created_at, expires_at)
		VALUES ($1, $2, $3, NOW(), NOW() + $4::interval)
	`, id, user.ID, user.FederationID, fmt.Sprintf("%d seconds", int(m.ttl.Seconds())))
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	if err := m.users.TouchLastLogin(ctx, user.ID); err != nil {
		return "", err
	}
	return id, nil
}

// Session returns the unexpired session with the given id, or
// accounts.ErrNotFound.
func (m *SessionManager) Session(ctx context.Context, id string) (*Session, error) {
	session := &Session{}
	err := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, eduperson_unique_id, created_at, expires_at
		FROM aai_sessions
		WHERE id = $1 AND expires_at > NOW()
	`, id).Scan(&session.ID, &session.UserID, &session.FederationID, &session.CreatedAt, &session.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, accounts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (m *SessionManager) Delete(ctx context.Context, id string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM aai_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CleanupExpired removes expired sessions and reports how many were
// deleted.
func (m *SessionManager) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := m.db.ExecContext(ctx, `DELETE FROM aai_sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sessions: %w", err)
	}
	return result.RowsAffected()
}

func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
