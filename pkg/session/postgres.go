package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists sessions and refresh tokens in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, organization_id, family_id, ip_address, user_agent, login_method, revoked, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.UserID, s.OrganizationID, s.FamilyID, s.IPAddress, s.UserAgent, s.LoginMethod, s.Revoked, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, organization_id, family_id, ip_address, user_agent, login_method, revoked, created_at, expires_at
		FROM sessions WHERE id = $1
	`, id).Scan(&s.ID, &s.UserID, &s.OrganizationID, &s.FamilyID, &s.IPAddress, &s.UserAgent, &s.LoginMethod, &s.Revoked, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func (p *PostgresStore) RevokeSession(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

func (p *PostgresStore) RevokeFamily(ctx context.Context, familyID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET revoked = TRUE WHERE family_id = $1`, familyID); err != nil {
		return fmt.Errorf("failed to revoke family sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET used = TRUE WHERE family_id = $1`, familyID); err != nil {
		return fmt.Errorf("failed to consume family tokens: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count revoked sessions: %w", err)
	}
	return int(n), nil
}

func (p *PostgresStore) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	predecessor := sql.NullString{String: t.PredecessorHash, Valid: t.PredecessorHash != ""}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_hash, session_id, family_id, predecessor_hash, used, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.TokenHash, t.SessionID, t.FamilyID, predecessor, t.Used, t.IssuedAt, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	var t RefreshToken
	var predecessor sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT token_hash, session_id, family_id, predecessor_hash, used, issued_at, expires_at
		FROM refresh_tokens WHERE token_hash = $1
	`, tokenHash).Scan(&t.TokenHash, &t.SessionID, &t.FamilyID, &predecessor, &t.Used, &t.IssuedAt, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	t.PredecessorHash = predecessor.String
	return &t, nil
}

// MarkTokenUsed relies on the conditional update to arbitrate concurrent
// refreshes: only the call whose UPDATE matched a row wins.
func (p *PostgresStore) MarkTokenUsed(ctx context.Context, tokenHash string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET used = TRUE WHERE token_hash = $1 AND used = FALSE`, tokenHash)
	if err != nil {
		return false, fmt.Errorf("failed to mark token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check token update: %w", err)
	}
	return n == 1, nil
}

func (p *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}
	res, err = p.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return removed, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}
	return removed, nil
}

func (p *PostgresStore) CountActiveSessions(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE revoked = FALSE AND expires_at > $1`, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}
