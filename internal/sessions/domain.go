package sessions

import (
	"time"

	"github.com/google/uuid"
)

// Session is an issued authentication session. TokenHash stores a SHA-256
// digest of the signed token; the raw token is never persisted.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    int64     `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IssueResult pairs a freshly minted session with its signed token. The token
// only exists here; afterwards the session carries just the hash.
type IssueResult struct {
	Session Session `json:"session"`
	Token   string  `json:"token"`
}
