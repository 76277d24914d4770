package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Manager issues, validates and revokes sessions backed by signed tokens.
type Manager struct {
	logger      *slog.Logger
	repo        Repository
	codec       *TokenCodec
	maxSessions int
}

// NewManager constructs a Manager. maxSessions of zero means unlimited
// concurrent sessions per user.
func NewManager(logger *slog.Logger, repo Repository, codec *TokenCodec, maxSessions int) *Manager {
	return &Manager{logger: logger, repo: repo, codec: codec, maxSessions: maxSessions}
}

// Issue mints a fresh session and signed token for the user. When a session
// cap is configured, the oldest live sessions beyond the cap are revoked
// first so the new one always fits.
func (m *Manager) Issue(ctx context.Context, userID int64, ip, userAgent string) (*IssueResult, error) {
	now := time.Now()
	id := uuid.New()

	token, err := m.codec.Sign(userID, id, now)
	if err != nil {
		return nil, err
	}

	if m.maxSessions > 0 {
		revoked, err := m.repo.RevokeOldestForUser(ctx, userID, m.maxSessions-1)
		if err != nil {
			return nil, err
		}
		if revoked > 0 {
			m.logger.Info("session cap enforced", "user_id", userID, "revoked", revoked)
		}
	}

	session := Session{
		ID:        id,
		UserID:    userID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(m.codec.TTL()),
		IP:        ip,
		UserAgent: userAgent,
		IsActive:  true,
		CreatedAt: now,
	}
	if err := m.repo.Create(ctx, session); err != nil {
		return nil, err
	}
	return &IssueResult{Session: session, Token: token}, nil
}

// Validate checks a raw token against its stored session. It never returns
// an error: any failure, from a bad signature to a revoked or expired
// session, yields (nil, false).
func (m *Manager) Validate(ctx context.Context, token string) (*Session, bool) {
	claims, err := m.codec.Verify(token)
	if err != nil {
		return nil, false
	}
	session, err := m.repo.Find(ctx, claims.SessionID, claims.UserID, hashToken(token), time.Now())
	if err != nil {
		return nil, false
	}
	return session, true
}

// Revoke deactivates a session by id. Unknown and already revoked sessions
// are a no-op.
func (m *Manager) Revoke(ctx context.Context, id uuid.UUID) error {
	return m.repo.Revoke(ctx, id)
}

// RevokeAllForUser deactivates every live session the user holds and returns
// how many were affected.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	return m.repo.RevokeAllForUser(ctx, userID)
}

// ListForUser returns the user's live sessions.
func (m *Manager) ListForUser(ctx context.Context, userID int64) ([]Session, error) {
	return m.repo.ListForUser(ctx, userID, time.Now())
}

// Sweep deletes expired and revoked sessions, returning how many rows were
// removed.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	removed, err := m.repo.DeleteDefunct(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.logger.Info("defunct sessions swept", "removed", removed)
	}
	return removed, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
