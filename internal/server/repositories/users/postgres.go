package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/common"
	"github.com/dmitrijs2005/loanapp/internal/dbx"
	"github.com/dmitrijs2005/loanapp/internal/server/models"
)

const userColumns = `id, first_name, last_name, email, phone, password_hash, role, status,
		 is_email_verified, is_phone_verified, email_verification_token,
		 email_verification_expires_at, phone_verification_token, profile_image,
		 address, date_of_birth, occupation, monthly_salary, ghana_card_number,
		 voters_id_number, created_at, updated_at, last_login`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                                  models.User
		role, status                       string
		emailToken, phoneToken, image      sql.NullString
		address, occupation, ghana, voters sql.NullString
		emailExpires, dob, lastLogin       sql.NullTime
		salary                             sql.NullFloat64
	)

	err := row.Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.PasswordHash, &role, &status,
		&u.IsEmailVerified, &u.IsPhoneVerified, &emailToken,
		&emailExpires, &phoneToken, &image,
		&address, &dob, &occupation, &salary, &ghana,
		&voters, &u.CreatedAt, &u.UpdatedAt, &lastLogin,
	)
	if err != nil {
		return nil, err
	}

	u.Role = models.Role(role)
	u.Status = models.Status(status)
	u.EmailVerificationToken = nullString(emailToken)
	u.EmailVerificationExpiresAt = nullTime(emailExpires)
	u.PhoneVerificationToken = nullString(phoneToken)
	u.ProfileImage = nullString(image)
	u.Address = nullString(address)
	u.DateOfBirth = nullTime(dob)
	u.Occupation = nullString(occupation)
	u.GhanaCardNumber = nullString(ghana)
	u.VotersIDNumber = nullString(voters)
	u.LastLogin = nullTime(lastLogin)
	if salary.Valid {
		u.MonthlySalary = &salary.Float64
	}

	return &u, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

// mapError translates driver errors into common sentinels.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}
	if constraint, ok := dbx.UniqueViolation(err); ok {
		return fmt.Errorf("%w: %s", common.ErrConflict, constraint)
	}
	return fmt.Errorf("db error: %w", err)
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (first_name, last_name, email, phone, password_hash, role, status,
		 email_verification_token, email_verification_expires_at, phone_verification_token,
		 address, date_of_birth, occupation, monthly_salary, ghana_card_number, voters_id_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		user.FirstName, user.LastName, user.Email, user.Phone, user.PasswordHash,
		string(user.Role), string(user.Status),
		user.EmailVerificationToken, user.EmailVerificationExpiresAt, user.PhoneVerificationToken,
		user.Address, user.DateOfBirth, user.Occupation, user.MonthlySalary,
		user.GhanaCardNumber, user.VotersIDNumber,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		return nil, mapError(err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}

func (r *PostgresRepository) ExistsByIdentity(ctx context.Context, email, phone string, ghanaCard, votersID *string) (bool, error) {
	conds := []string{"email = $1", "phone = $2"}
	args := []any{email, phone}

	if ghanaCard != nil {
		args = append(args, *ghanaCard)
		conds = append(conds, fmt.Sprintf("ghana_card_number = $%d", len(args)))
	}
	if votersID != nil {
		args = append(args, *votersID)
		conds = append(conds, fmt.Sprintf("voters_id_number = $%d", len(args)))
	}

	query := `SELECT EXISTS (SELECT 1 FROM users WHERE ` + strings.Join(conds, " OR ") + `)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// execOne runs an UPDATE expected to touch exactly one row.
func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	return r.execOne(ctx, `UPDATE users SET last_login = $1 WHERE id = $2`, at, id)
}

func (r *PostgresRepository) SetEmailVerificationToken(ctx context.Context, id int64, digest string, expiresAt time.Time) error {
	return r.execOne(ctx,
		`UPDATE users SET email_verification_token = $1, email_verification_expires_at = $2, updated_at = NOW()
		 WHERE id = $3`,
		digest, expiresAt, id)
}

func (r *PostgresRepository) MarkEmailVerified(ctx context.Context, id int64, digest string) error {
	return r.execOne(ctx,
		`UPDATE users SET is_email_verified = TRUE, email_verification_token = NULL,
		 email_verification_expires_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND email_verification_token = $2`,
		id, digest)
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, id int64, upd models.ProfileUpdate) (*models.User, error) {
	assignments := upd.Assignments()
	if len(assignments) == 0 {
		return nil, common.ErrNoFieldsProvided
	}

	sets := make([]string, 0, len(assignments)+1)
	args := make([]any, 0, len(assignments)+1)
	for _, a := range assignments {
		args = append(args, a.Value)
		sets = append(sets, fmt.Sprintf("%s = $%d", a.Column, len(args)))
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), userColumns)

	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return r.execOne(ctx, `UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`, hash, id)
}

func (r *PostgresRepository) SetProfileImage(ctx context.Context, id int64, key string) error {
	return r.execOne(ctx, `UPDATE users SET profile_image = $1, updated_at = NOW() WHERE id = $2`, key, id)
}

func (r *PostgresRepository) SetRole(ctx context.Context, id int64, role models.Role) error {
	return r.execOne(ctx, `UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2`, string(role), id)
}
