package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prospectlabs/prospect/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Credential errors. Messages are surfaced to the user verbatim, so they are
// phrased for people, not operators.
var (
	// ErrInvalidEmail indicates an email that cannot belong to an account.
	ErrInvalidEmail = errors.New("a valid email address is required")
	// ErrEmailTaken indicates a sign-up against an already registered email.
	ErrEmailTaken = errors.New("an account with this email already exists")
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("incorrect email or password")
)

var (
	errMissingDatabase   = errors.New("users: database handle is required")
	errMissingIDProvider = errors.New("users: id provider is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages account registration and credential verification.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	ids    IDProvider
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		clock:  clock,
		ids:    cfg.IDProvider,
		logger: logger,
	}, nil
}

// SignUp registers a new account and returns it.
func (s *Service) SignUp(ctx context.Context, email, password string) (Account, error) {
	normalized := normalizeEmail(email)
	if !validEmail(normalized) {
		return Account{}, ErrInvalidEmail
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return Account{}, err
	}

	accountID, err := s.ids.NewID()
	if err != nil {
		return Account{}, fmt.Errorf("users: id generation failed: %w", err)
	}

	account := Account{
		ID:           accountID,
		Email:        normalized,
		PasswordHash: hash,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Account
		err := tx.Where("email = ?", normalized).Take(&existing).Error
		if err == nil {
			return ErrEmailTaken
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("users: account lookup failed: %w", err)
		}
		if err := tx.Create(&account).Error; err != nil {
			return fmt.Errorf("users: account create failed: %w", err)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrEmailTaken) {
			s.logger.Error("sign up failed", zap.String("email", normalized), zap.Error(txErr))
		}
		return Account{}, txErr
	}

	s.logger.Info("account created", zap.String("user_id", account.ID))
	return account, nil
}

// SignIn verifies credentials and returns the matching account. Unknown
// emails and wrong passwords yield the same error.
func (s *Service) SignIn(ctx context.Context, email, password string) (Account, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return Account{}, ErrInvalidCredentials
	}

	var account Account
	err := s.db.WithContext(ctx).Where("email = ?", normalized).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logger.Error("sign in lookup failed", zap.String("email", normalized), zap.Error(err))
		return Account{}, fmt.Errorf("users: account lookup failed: %w", err)
	}

	if err := auth.VerifyPassword(account.PasswordHash, password); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	return account, nil
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}
