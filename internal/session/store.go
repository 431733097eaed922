package session

import (
	"context"
	"time"

	"roster-lookup/internal/auth"
)

// TTL is the fixed lifetime of a session.
const TTL = 60 * time.Minute

// Session maps an opaque token to the identity verified at sign-in.
// Sessions are never updated; they end when their TTL elapses or on logout.
type Session struct {
	Token     string        `json:"token"`
	Identity  auth.Identity `json:"identity"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Store defines how sessions are stored and retrieved.
// Get returns (nil, nil) when the token is unknown or expired; callers
// cannot tell the two apart.
type Store interface {
	Create(ctx context.Context, identity auth.Identity) (token string, err error)
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
}
