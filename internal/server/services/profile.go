package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/loanapp/internal/common"
	"github.com/dmitrijs2005/loanapp/internal/cryptox"
	"github.com/dmitrijs2005/loanapp/internal/server/models"
	"github.com/dmitrijs2005/loanapp/internal/server/otp"
	"github.com/dmitrijs2005/loanapp/internal/server/validation"
)

const msgAlreadyVerified = "Email is already verified"

func (s *UserService) loadUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthenticated
		}
		return nil, s.internal(ctx, "user lookup failed", err, "user_id", id)
	}
	return user, nil
}

// VerifyEmail checks code against the pending email verification digest.
// A wrong, expired or already consumed code is ErrInvalidOTP.
func (s *UserService) VerifyEmail(ctx context.Context, userID int64, code string) error {
	if err := validation.ValidateOTP(code); err != nil {
		return err
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	if user.IsEmailVerified || user.EmailVerificationToken == nil {
		return common.ErrInvalidOTP
	}
	digest := *user.EmailVerificationToken
	if !cryptox.EqualDigest(code, digest) {
		return common.ErrInvalidOTP
	}
	if exp := user.EmailVerificationExpiresAt; exp != nil && s.now().After(*exp) {
		return common.ErrInvalidOTP
	}

	// compare-and-set on the digest; a concurrent resend wins
	if err := s.repomanager.Users(s.db).MarkEmailVerified(ctx, user.ID, digest); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrInvalidOTP
		}
		return s.internal(ctx, "mark email verified failed", err, "user_id", user.ID)
	}

	s.logger.Info(ctx, "email verified", "user_id", user.ID)

	s.dispatch(ctx, "welcome", func(ctx context.Context) error {
		return s.notifier.SendWelcome(ctx, user.Email, user.FirstName)
	})
	return nil
}

// ResendOTP replaces the pending email code and sends the new one. Unlike
// the registration email, the send is synchronous and its failure is
// reported.
func (s *UserService) ResendOTP(ctx context.Context, userID int64) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsEmailVerified {
		return common.NewValidationError(msgAlreadyVerified)
	}

	code, err := otp.GenerateOTP()
	if err != nil {
		return s.internal(ctx, "otp generation failed", err)
	}

	expiresAt := s.now().Add(s.otpValidity)
	if err := s.repomanager.Users(s.db).SetEmailVerificationToken(ctx, user.ID, otp.HashToken(code), expiresAt); err != nil {
		return s.internal(ctx, "store otp failed", err, "user_id", user.ID)
	}

	if err := s.notifier.SendOTP(ctx, user.Email, user.FirstName, code); err != nil {
		return s.internal(ctx, "send otp failed", err, "user_id", user.ID)
	}
	return nil
}

// UpdateProfile applies the supplied fields and returns the updated view.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, upd models.ProfileUpdate) (*models.UserView, error) {
	if err := validation.ValidateProfileUpdate(upd); err != nil {
		return nil, err
	}
	if upd.Phone != nil {
		p := validation.NormalizePhone(*upd.Phone)
		upd.Phone = &p
	}

	user, err := s.repomanager.Users(s.db).UpdateProfile(ctx, userID, upd)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrConflict):
			return nil, common.ErrConflict
		case errors.Is(err, common.ErrNotFound):
			return nil, common.ErrUnauthenticated
		}
		return nil, s.internal(ctx, "update profile failed", err, "user_id", userID)
	}
	return user.View(), nil
}

// ChangePassword replaces the password after checking the current one.
// Nothing is written when either check fails.
func (s *UserService) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if err := validation.ValidatePasswordChange(current, next); err != nil {
		return err
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return s.internal(ctx, "password verify failed", err, "user_id", user.ID)
	}
	if !ok {
		return common.ErrWrongPassword
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return s.internal(ctx, "password hash failed", err, "user_id", user.ID)
	}
	if err := s.repomanager.Users(s.db).UpdatePassword(ctx, user.ID, hash); err != nil {
		return s.internal(ctx, "update password failed", err, "user_id", user.ID)
	}

	s.logger.Info(ctx, "password changed", "user_id", user.ID)
	return nil
}

// ProfileImageUploadURL presigns an upload for a new profile picture and
// records its key on the user.
func (s *UserService) ProfileImageUploadURL(ctx context.Context, userID int64) (url string, key string, err error) {
	if s.images == nil {
		return "", "", common.ErrNotFound
	}

	url, key, err = s.images.PresignUpload(ctx, userID)
	if err != nil {
		return "", "", s.internal(ctx, "presign upload failed", err, "user_id", userID)
	}

	if err := s.repomanager.Users(s.db).SetProfileImage(ctx, userID, key); err != nil {
		return "", "", s.internal(ctx, "store profile image failed", err, "user_id", userID)
	}
	return url, key, nil
}
