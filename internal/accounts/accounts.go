// Package accounts stores email/password credentials for identities.
package accounts

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/errs"
	"github.com/hongminglow/flatkeeper/internal/logging"
	"github.com/hongminglow/flatkeeper/internal/models"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// Service registers and authenticates accounts kept at {ns}/accounts/{email}.
type Service struct {
	store docstore.Store
	ns    docstore.Namespace
	log   *zap.Logger
	now   func() time.Time
	cost  int
}

func NewService(store docstore.Store, ns docstore.Namespace, log *zap.Logger) *Service {
	if ns == "" {
		ns = docstore.DefaultNamespace
	}
	return &Service{store: store, ns: ns, log: logging.OrNop(log).Named("accounts"), now: time.Now, cost: bcrypt.DefaultCost}
}

// Register creates an account with a fresh identity id. The returned
// account carries no password hash.
func (s *Service) Register(ctx context.Context, email, password string) (models.Account, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return models.Account{}, err
	}
	if s.store == nil {
		return models.Account{}, errs.New(errs.CodeStoreUnavailable, "document store is not connected")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return models.Account{}, errs.Wrap(err, errs.CodeInternal, "failed to hash password")
	}

	account := models.Account{
		IdentityID:   docstore.NewID(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	data, err := docstore.Encode(account)
	if err != nil {
		return models.Account{}, errs.Wrap(err, errs.CodeInternal, "encode account")
	}
	if err := s.store.Create(ctx, s.ns.Account(email), data); err != nil {
		switch {
		case errors.Is(err, docstore.ErrAlreadyExists):
			return models.Account{}, errs.New(errs.CodeConflict, "account already exists")
		case errors.Is(err, docstore.ErrUnavailable):
			return models.Account{}, errs.Wrap(err, errs.CodeStoreUnavailable, "create account")
		default:
			s.log.Error("create account failed", zap.String("email", email), zap.Error(err))
			return models.Account{}, errs.Wrap(err, errs.CodeInternal, "failed to create account")
		}
	}
	account.PasswordHash = ""
	return account, nil
}

// Authenticate checks the password and returns the account. Unknown
// emails and wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (models.Account, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return models.Account{}, errs.New(errs.CodeValidation, "email and password are required")
	}
	if s.store == nil || strings.Contains(email, "/") {
		return models.Account{}, errs.New(errs.CodeUnauthorized, "invalid credentials")
	}
	doc, err := s.store.Get(ctx, s.ns.Account(email))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			s.log.Info("login for unknown account", zap.String("email", email))
			return models.Account{}, errs.New(errs.CodeUnauthorized, "invalid credentials")
		}
		return models.Account{}, errs.Wrap(err, errs.CodeStoreUnavailable, "failed to fetch account")
	}
	var account models.Account
	if err := docstore.Decode(doc, &account); err != nil {
		return models.Account{}, errs.Wrap(err, errs.CodeInternal, "malformed account")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return models.Account{}, errs.New(errs.CodeUnauthorized, "invalid credentials")
	}
	account.PasswordHash = ""
	return account, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	if email == "" || !strings.Contains(email, "@") || strings.Contains(email, "/") {
		return errs.New(errs.CodeValidation, "a valid email is required")
	}
	if len(strings.TrimSpace(password)) < MinPasswordLength || !utf8.ValidString(password) {
		return errs.New(errs.CodeValidation, "password must be at least 8 characters")
	}
	return nil
}
