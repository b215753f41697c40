// Package services contains server-side business logic. UserService is the
// identity service: registration, login, email verification, profile and
// password changes, and session token refresh and revocation.
package services

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/common"
	"github.com/dmitrijs2005/loanapp/internal/dbx"
	"github.com/dmitrijs2005/loanapp/internal/logging"
	"github.com/dmitrijs2005/loanapp/internal/server/auth"
	"github.com/dmitrijs2005/loanapp/internal/server/config"
	"github.com/dmitrijs2005/loanapp/internal/server/models"
	"github.com/dmitrijs2005/loanapp/internal/server/otp"
	"github.com/dmitrijs2005/loanapp/internal/server/password"
	"github.com/dmitrijs2005/loanapp/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/loanapp/internal/server/repositories/users"
	"github.com/dmitrijs2005/loanapp/internal/server/revocation"
	"github.com/dmitrijs2005/loanapp/internal/server/validation"
)

// mailTimeout bounds a background email send.
const mailTimeout = 30 * time.Second

// Notifier sends the account emails. mail.Notifier implements it.
type Notifier interface {
	SendOTP(ctx context.Context, email, name, code string) error
	SendWelcome(ctx context.Context, email, name string) error
}

// ProfileImageStore presigns profile picture uploads. storage.ProfileImages
// implements it.
type ProfileImageStore interface {
	PresignUpload(ctx context.Context, userID int64) (url string, key string, err error)
}

type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      password.Hasher
	issuer      *auth.TokenIssuer
	revoker     revocation.Revoker
	notifier    Notifier
	images      ProfileImageStore
	logger      logging.Logger
	otpValidity time.Duration
	now         func() time.Time

	// background email sends
	wg sync.WaitGroup
}

// Option customises a UserService.
type Option func(*UserService)

// WithProfileImages enables presigned profile picture uploads.
func WithProfileImages(images ProfileImageStore) Option {
	return func(s *UserService) { s.images = images }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *UserService) { s.now = now }
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config,
	hasher password.Hasher, revoker revocation.Revoker, notifier Notifier, logger logging.Logger,
	opts ...Option) *UserService {

	s := &UserService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		issuer: auth.NewTokenIssuer(cfg.AccessTokenSecret, cfg.RefreshTokenSecret,
			cfg.AccessTokenValidityDuration, cfg.RefreshTokenValidityDuration),
		revoker:     revoker,
		notifier:    notifier,
		logger:      logger.With("module", "users"),
		otpValidity: cfg.OTPValidityDuration,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until queued background emails have been handed to the mailer.
func (s *UserService) Wait() { s.wg.Wait() }

// ProfileImagesEnabled reports whether an image store is configured.
func (s *UserService) ProfileImagesEnabled() bool { return s.images != nil }

// dispatch runs fn in the background, detached from the request's
// cancellation. Failures are logged and never reach the caller.
func (s *UserService) dispatch(ctx context.Context, kind string, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mailTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.logger.Warn(ctx, "email dispatch failed", "kind", kind, "error", err)
		}
	}()
}

// internal logs the cause and returns the opaque sentinel.
func (s *UserService) internal(ctx context.Context, msg string, err error, args ...any) error {
	s.logger.Error(ctx, msg, append(args, "error", err)...)
	return common.ErrInternal
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func (s *UserService) newUser(r validation.Registration, role models.Role) (*models.User, error) {
	hash, err := s.hasher.Hash(r.Password)
	if err != nil {
		return nil, err
	}

	u := &models.User{
		FirstName:       strings.TrimSpace(r.FirstName),
		LastName:        strings.TrimSpace(r.LastName),
		Email:           r.Email,
		Phone:           r.Phone,
		PasswordHash:    hash,
		Role:            role,
		Status:          models.StatusActive,
		Address:         optional(r.Address),
		Occupation:      optional(r.Occupation),
		GhanaCardNumber: optional(r.GhanaCardNumber),
		VotersIDNumber:  optional(r.VotersIDNumber),
	}
	if r.MonthlySalary != "" {
		v, _ := strconv.ParseFloat(strings.TrimSpace(r.MonthlySalary), 64)
		u.MonthlySalary = &v
	}
	if r.DateOfBirth != "" {
		d, _ := validation.DateOfBirth(r.DateOfBirth, s.now())
		u.DateOfBirth = &d
	}
	return u, nil
}

// Register creates an active, unverified user, emails the verification
// code and returns a fresh session.
func (s *UserService) Register(ctx context.Context, r validation.Registration) (*auth.SessionPair, error) {
	if err := validation.ValidateRegistration(r); err != nil {
		return nil, err
	}
	r.Phone = validation.NormalizePhone(r.Phone)

	repo := s.repomanager.Users(s.db)

	exists, err := repo.ExistsByIdentity(ctx, r.Email, r.Phone, optional(r.GhanaCardNumber), optional(r.VotersIDNumber))
	if err != nil {
		return nil, s.internal(ctx, "identity lookup failed", err)
	}
	if exists {
		return nil, common.ErrConflict
	}

	user, err := s.newUser(r, models.RoleUser)
	if err != nil {
		return nil, s.internal(ctx, "password hash failed", err)
	}

	emailCode, err := otp.GenerateOTP()
	if err != nil {
		return nil, s.internal(ctx, "otp generation failed", err)
	}
	phoneCode, err := otp.GenerateOTP()
	if err != nil {
		return nil, s.internal(ctx, "otp generation failed", err)
	}

	emailDigest := otp.HashToken(emailCode)
	phoneDigest := otp.HashToken(phoneCode)
	expiresAt := s.now().Add(s.otpValidity)
	user.EmailVerificationToken = &emailDigest
	user.EmailVerificationExpiresAt = &expiresAt
	user.PhoneVerificationToken = &phoneDigest

	// the unique constraints close the race between the check above and here
	created, err := repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, common.ErrConflict
		}
		return nil, s.internal(ctx, "create user failed", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", created.ID)

	s.dispatch(ctx, "otp", func(ctx context.Context) error {
		return s.notifier.SendOTP(ctx, created.Email, created.FirstName, emailCode)
	})

	pair, err := s.issuer.IssueSessionPair(created)
	if err != nil {
		return nil, s.internal(ctx, "issue session failed", err, "user_id", created.ID)
	}
	return pair, nil
}

// Login checks the credentials. Unknown email and wrong password are the
// same ErrInvalidCredentials; a suspended account with the right password
// is ErrForbidden.
func (s *UserService) Login(ctx context.Context, email, pw string) (*auth.SessionPair, error) {
	if err := validation.ValidateLogin(email, pw); err != nil {
		return nil, err
	}

	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// keep the response time of an unknown email close to a real check
			_, _ = s.hasher.Verify(pw, s.hasher.DummyHash())
			return nil, common.ErrInvalidCredentials
		}
		return nil, s.internal(ctx, "user lookup failed", err)
	}

	ok, err := s.hasher.Verify(pw, user.PasswordHash)
	if err != nil {
		return nil, s.internal(ctx, "password verify failed", err, "user_id", user.ID)
	}
	if !ok {
		return nil, common.ErrInvalidCredentials
	}

	if !user.IsActive() {
		return nil, common.ErrForbidden
	}

	now := s.now()
	if err := repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, s.internal(ctx, "update last login failed", err, "user_id", user.ID)
	}
	user.LastLogin = &now

	pair, err := s.issuer.IssueSessionPair(user)
	if err != nil {
		return nil, s.internal(ctx, "issue session failed", err, "user_id", user.ID)
	}
	return pair, nil
}

// GetUser returns the public view of a user.
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.UserView, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, s.internal(ctx, "user lookup failed", err, "user_id", id)
	}
	return user.View(), nil
}

// EmailRegistered reports whether an account with this email exists.
func (s *UserService) EmailRegistered(ctx context.Context, email string) (bool, error) {
	_, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, common.ErrNotFound):
		return false, nil
	default:
		return false, s.internal(ctx, "user lookup failed", err)
	}
}

// SeedAdmin creates an admin account, or promotes the existing account with
// the same email. created reports which happened. Lookup and write share one
// transaction.
func (s *UserService) SeedAdmin(ctx context.Context, r validation.Registration) (view *models.UserView, created bool, err error) {
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		view, created, err = s.seedAdmin(ctx, s.repomanager.Users(tx), r)
		return err
	})
	if err == nil {
		return view, created, nil
	}
	if errors.Is(err, common.ErrValidation) || errors.Is(err, common.ErrConflict) || errors.Is(err, common.ErrInternal) {
		return nil, false, err
	}
	return nil, false, s.internal(ctx, "seed admin transaction failed", err)
}

func (s *UserService) seedAdmin(ctx context.Context, repo users.Repository, r validation.Registration) (*models.UserView, bool, error) {
	existing, err := repo.GetByEmail(ctx, r.Email)
	switch {
	case err == nil:
		if err := repo.SetRole(ctx, existing.ID, models.RoleAdmin); err != nil {
			return nil, false, s.internal(ctx, "promote user failed", err, "user_id", existing.ID)
		}
		existing.Role = models.RoleAdmin
		s.logger.Info(ctx, "user promoted to admin", "user_id", existing.ID)
		return existing.View(), false, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, false, s.internal(ctx, "user lookup failed", err)
	}

	if err := validation.ValidateRegistration(r); err != nil {
		return nil, false, err
	}
	r.Phone = validation.NormalizePhone(r.Phone)

	user, err := s.newUser(r, models.RoleAdmin)
	if err != nil {
		return nil, false, s.internal(ctx, "password hash failed", err)
	}

	user, err = repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, false, common.ErrConflict
		}
		return nil, false, s.internal(ctx, "create user failed", err)
	}

	s.logger.Info(ctx, "admin created", "user_id", user.ID)
	return user.View(), true, nil
}
