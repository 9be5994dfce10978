package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services"
)

// Verifier checks session tokens minted by an Issuer sharing the same secret
type Verifier struct {
	secret []byte
	issuer string
	now    Clock
	parser *jwt.Parser
}

// NewVerifier creates a Verifier. A nil clock uses time.Now.
func NewVerifier(cfg Config, now Clock) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		secret: []byte(cfg.SigningSecret),
		issuer: cfg.Issuer,
		now:    now,
		// Time claims are checked below against the injected clock.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
			jwt.WithStrictDecoding(),
		),
	}
}

// Verify authenticates the token and returns the session it carries.
//
// The signature is checked first, in constant time; any token that does not
// parse and verify is ErrInvalidSignature. A verified session is
// ErrSessionExpired once now is strictly after ExpiresAt.
func (v *Verifier) Verify(token string) (*models.Session, error) {
	if len(v.secret) == 0 {
		return nil, services.ErrSigningError
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, services.ErrMissingToken
	}

	claims := &sessionClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.key); err != nil {
		return nil, services.ErrInvalidSignature.Wrap(err)
	}

	s := claims.session()
	if err := v.checkClaims(claims, s); err != nil {
		return nil, services.ErrInvalidSignature.Wrap(err)
	}
	if s.ExpiredAt(v.now()) {
		return nil, services.ErrSessionExpired.
			WithDetail("expired_at", s.ExpiresAt.Format(time.RFC3339))
	}

	s.Token = token
	s.Signature = token[strings.LastIndexByte(token, '.')+1:]
	return s, nil
}

func (v *Verifier) key(*jwt.Token) (interface{}, error) {
	return v.secret, nil
}

func (v *Verifier) checkClaims(c *sessionClaims, s *models.Session) error {
	if c.IssuedAt == nil || c.ExpiresAt == nil {
		return errors.New("missing iat or exp")
	}
	if !s.ExpiresAt.After(s.IssuedAt) {
		return fmt.Errorf("exp %d not after iat %d", s.ExpiresAt.Unix(), s.IssuedAt.Unix())
	}
	if v.issuer != "" && c.Issuer != v.issuer {
		return fmt.Errorf("unexpected issuer %q", c.Issuer)
	}
	if c.ID == "" {
		return errors.New("missing jti")
	}
	return s.Identity.Validate()
}
