package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/server/models"
)

// Repository is the User Store. Implementations return common.ErrNotFound
// for missing rows and common.ErrConflict for unique violations.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// ExistsByIdentity reports whether any user holds the email or phone, or
	// the Ghana Card / Voters ID numbers when they are non-nil.
	ExistsByIdentity(ctx context.Context, email, phone string, ghanaCard, votersID *string) (bool, error)

	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	SetEmailVerificationToken(ctx context.Context, id int64, digest string, expiresAt time.Time) error

	// MarkEmailVerified flips the user to verified and clears the token, but
	// only while the stored digest still equals digest.
	MarkEmailVerified(ctx context.Context, id int64, digest string) error

	UpdateProfile(ctx context.Context, id int64, upd models.ProfileUpdate) (*models.User, error)
	UpdatePassword(ctx context.Context, id int64, hash string) error
	SetProfileImage(ctx context.Context, id int64, key string) error
	SetRole(ctx context.Context, id int64, role models.Role) error
}
