package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services"
)

// Issuer mints sessions for authenticated identities. It holds no per-session state.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    Clock
}

// NewIssuer creates an Issuer. A nil clock uses time.Now.
func NewIssuer(cfg Config, now Clock) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		secret: []byte(cfg.SigningSecret),
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    now,
	}
}

// TTL returns the lifetime given to new sessions
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue creates a signed session valid from now until now+TTL.
// Timestamps are truncated to whole seconds, the precision of the token, so a
// fractional TTL is cut down to whole seconds.
func (i *Issuer) Issue(identity models.Identity) (*models.Session, error) {
	if len(i.secret) == 0 {
		return nil, services.ErrSigningError
	}
	if err := identity.Validate(); err != nil {
		return nil, services.ErrInvalidInput.Wrap(err)
	}
	if i.ttl < time.Second {
		return nil, services.ErrInvalidInput.WithDetail("ttl", i.ttl.String())
	}

	issuedAt := i.now().UTC().Truncate(time.Second)
	s := &models.Session{
		ID:        uuid.NewString(),
		Identity:  identity,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(i.ttl).Truncate(time.Second),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, newClaims(s, i.issuer)).SignedString(i.secret)
	if err != nil {
		return nil, services.ErrSigningError.Wrap(err)
	}

	s.Token = token
	s.Signature = token[strings.LastIndexByte(token, '.')+1:]
	return s, nil
}
