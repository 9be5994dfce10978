// Package session issues and verifies signed, time-bounded session tokens.
//
// Tokens are HS256 JWTs. The subject is the user ID; tenant, email, display
// name and role travel as private claims. Verification is a pure function of
// the token, the secret and the injected clock.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/revai/concierge/models"
)

// Config holds what both the issuer and the verifier need
type Config struct {
	SigningSecret string
	TTL           time.Duration
	Issuer        string
}

// Clock returns the current time. Injected so tests can pin it.
type Clock func() time.Time

// sessionClaims is the serialized session payload
type sessionClaims struct {
	TenantID string          `json:"tid"`
	Email    string          `json:"email"`
	Name     string          `json:"name,omitempty"`
	Role     models.UserRole `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func newClaims(s *models.Session, issuer string) *sessionClaims {
	return &sessionClaims{
		TenantID: s.Identity.TenantID,
		Email:    s.Identity.Email,
		Name:     s.Identity.DisplayName,
		Role:     s.Identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Subject:   s.Identity.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
}

func (c *sessionClaims) session() *models.Session {
	s := &models.Session{
		ID: c.ID,
		Identity: models.Identity{
			UserID:      c.Subject,
			TenantID:    c.TenantID,
			Email:       c.Email,
			DisplayName: c.Name,
			Role:        c.Role,
		},
	}
	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time.UTC()
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time.UTC()
	}
	return s
}
