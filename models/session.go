package models

import (
	"errors"
	"time"
)

// Identity is the authenticated principal carried inside a session.
// UserID and TenantID are opaque, stable identifiers.
type Identity struct {
	UserID      string   `json:"uid"`
	TenantID    string   `json:"tid"`
	Email       string   `json:"email"`
	DisplayName string   `json:"name,omitempty"`
	Role        UserRole `json:"role,omitempty"`
}

// Validate checks that the identity is bound to a user and exactly one tenant
func (i Identity) Validate() error {
	if i.UserID == "" {
		return errors.New("identity: user id is required")
	}
	if i.TenantID == "" {
		return errors.New("identity: tenant id is required")
	}
	if i.Email == "" {
		return errors.New("identity: email is required")
	}
	return nil
}

// IsAdmin returns true if the identity carries the admin role
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Session is a time-bounded, signed proof of an authenticated identity
type Session struct {
	ID        string    `json:"id"`
	Identity  Identity  `json:"identity"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Signature string    `json:"-"`
	Token     string    `json:"-"`
}

// ExpiredAt reports whether the session is past its expiry at the given instant
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Remaining returns how long the session stays valid from now
func (s *Session) Remaining(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
