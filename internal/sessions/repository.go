package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-platform/aegis-iam/internal/shared"
)

// Repository defines persistence operations for issued sessions.
type Repository interface {
	Create(ctx context.Context, session Session) error
	Find(ctx context.Context, id uuid.UUID, userID int64, tokenHash string, now time.Time) (*Session, error)
	ListForUser(ctx context.Context, userID int64, now time.Time) ([]Session, error)
	CountForUser(ctx context.Context, userID int64, now time.Time) (int, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeOldestForUser(ctx context.Context, userID int64, keep int) (int64, error)
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	DeleteDefunct(ctx context.Context, now time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts a new session row.
func (r *PGRepository) Create(ctx context.Context, session Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, expires_at, ip, user_agent, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		session.ID, session.UserID, session.TokenHash, session.ExpiresAt,
		session.IP, session.UserAgent, session.IsActive)
	if err != nil {
		return fmt.Errorf("sessions: create: %w", err)
	}
	return nil
}

// Find fetches the session matching id, owner, token hash, active flag and
// expiry all at once. A miss on any of those returns ErrNotFound.
func (r *PGRepository) Find(ctx context.Context, id uuid.UUID, userID int64, tokenHash string, now time.Time) (*Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, ip, user_agent, is_active, created_at
		FROM sessions
		WHERE id = $1 AND user_id = $2 AND token_hash = $3 AND is_active AND expires_at > $4`,
		id, userID, tokenHash, now)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

// ListForUser returns the user's live sessions, newest first.
func (r *PGRepository) ListForUser(ctx context.Context, userID int64, now time.Time) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, token_hash, expires_at, ip, user_agent, is_active, created_at
		FROM sessions
		WHERE user_id = $1 AND is_active AND expires_at > $2
		ORDER BY created_at DESC`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// CountForUser returns how many live sessions the user currently holds.
func (r *PGRepository) CountForUser(ctx context.Context, userID int64, now time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE user_id = $1 AND is_active AND expires_at > $2`, userID, now).Scan(&count)
	return count, err
}

// Revoke deactivates a session. Revoking an unknown or already revoked
// session is a no-op.
func (r *PGRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("sessions: revoke: %w", err)
	}
	return nil
}

// RevokeOldestForUser deactivates the user's oldest live sessions so that at
// most keep remain.
func (r *PGRepository) RevokeOldestForUser(ctx context.Context, userID int64, keep int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE
		WHERE id IN (
			SELECT id FROM sessions
			WHERE user_id = $1 AND is_active AND expires_at > NOW()
			ORDER BY created_at DESC
			OFFSET $2
		)`, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("sessions: revoke oldest: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RevokeAllForUser deactivates every live session the user holds.
func (r *PGRepository) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE sessions SET is_active = FALSE WHERE user_id = $1 AND is_active`, userID)
	if err != nil {
		return 0, fmt.Errorf("sessions: revoke all: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteDefunct removes expired and revoked session rows.
func (r *PGRepository) DeleteDefunct(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1 OR NOT is_active`, now)
	if err != nil {
		return 0, fmt.Errorf("sessions: delete defunct: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var session Session
	if err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.ExpiresAt,
		&session.IP, &session.UserAgent, &session.IsActive, &session.CreatedAt); err != nil {
		return nil, err
	}
	return &session, nil
}

var _ Repository = (*PGRepository)(nil)
