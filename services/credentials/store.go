// Package credentials resolves login credentials to identities.
package credentials

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/revai/concierge/models"
	"github.com/revai/concierge/repositories"
	"github.com/revai/concierge/services"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Credential is an email/password pair submitted at login
type Credential struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Store looks identities up by credential against the user table
type Store struct {
	users  repositories.UserRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a credential store
func NewStore(users repositories.UserRepository, logger *zap.Logger) *Store {
	return &Store{
		users:  users,
		logger: logger,
		now:    time.Now,
	}
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// equalizeTiming burns one bcrypt comparison so unknown emails cost the same as wrong passwords
func equalizeTiming(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("concierge-dummy-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// FindByCredential returns the identity owning the credential.
// Unknown emails are ErrNotFound; a wrong password is ErrInvalidCredentials.
func (s *Store) FindByCredential(ctx context.Context, cred Credential) (models.Identity, error) {
	email := strings.ToLower(strings.TrimSpace(cred.Email))
	if email == "" || cred.Password == "" {
		return models.Identity{}, services.ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			equalizeTiming(cred.Password)
			return models.Identity{}, services.ErrNotFound
		}
		return models.Identity{}, services.WrapInternal("credential lookup failed", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(cred.Password)); err != nil {
		s.logger.Debug("password mismatch", zap.String("user_id", user.ID.String()))
		return models.Identity{}, services.ErrInvalidCredentials
	}

	if err := s.users.TouchLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to record last login", zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	return user.Identity(), nil
}

// HashPassword hashes a password for storage
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
