// Package validation holds the pure input checks for registration, login,
// profile updates and password changes. Every failure is a
// *common.ValidationError whose message can be shown to the user.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/loanapp/internal/common"
	"github.com/dmitrijs2005/loanapp/internal/server/models"
)

const MinPasswordLength = 8

// Column limits of the users table, in characters.
const (
	MaxNameLength       = 100
	MaxEmailLength      = 255
	MaxOccupationLength = 100
	MaxAddressLength    = 500
)

// MaxSalary is the largest value NUMERIC(14,2) holds.
const MaxSalary = 999999999999.99

const (
	MsgRequiredFields   = "Please provide all required fields"
	MsgLoginFields      = "Please provide email and password"
	MsgPasswordMismatch = "Passwords do not match"
	MsgEmail            = "Please provide a valid email address"
	MsgPhone            = "Please provide a valid Ghana phone number"
	MsgPasswordLength   = "Password must be at least 8 characters long"
	MsgPasswordTooLong  = "Password must be at most 72 bytes long"
	MsgGhanaCard        = "Please provide a valid Ghana Card Number (format: GHA-XXXXXXXXX-X)"
	MsgVotersID         = "Please provide a valid Voters ID Number (10 digits)"
	MsgSalary           = "Please provide a valid monthly salary amount"
	MsgDateOfBirth      = "Please provide a valid date of birth (format: YYYY-MM-DD)"
	MsgNameEmpty        = "First name, last name and phone cannot be empty"
	MsgOTPRequired      = "Please provide OTP"
	MsgPasswordFields   = "Please provide current and new password"
	MsgNewPasswordLen   = "New password must be at least 8 characters long"
	MsgRefreshRequired  = "Please provide refresh token"
	MsgNoFields         = "No fields to update"
)

var (
	emailRe     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe     = regexp.MustCompile(`^(\+233|0)[2-5][0-9]{8}$`)
	salaryRe    = regexp.MustCompile(`^[0-9]{1,12}(\.[0-9]{1,2})?$`)
	ghanaCardRe = regexp.MustCompile(`^GHA-[0-9]{9}-[0-9]$`)
	votersIDRe  = regexp.MustCompile(`^[0-9]{10}$`)
)

const dateLayout = "2006-01-02"

// Registration is the raw signup payload. Optional fields are empty when
// not supplied.
type Registration struct {
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	Password        string
	ConfirmPassword string

	Address         string
	DateOfBirth     string
	Occupation      string
	MonthlySalary   string
	GhanaCardNumber string
	VotersIDNumber  string
}

func fail(msg string) error { return common.NewValidationError(msg) }

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func Email(s string) bool { return emailRe.MatchString(s) }

func Phone(s string) bool { return phoneRe.MatchString(s) }

// NormalizePhone rewrites a valid "+233XXXXXXXXX" number to the local
// "0XXXXXXXXX" form so both spellings hit the same unique key. Other input
// is returned unchanged.
func NormalizePhone(s string) string {
	if Phone(s) && strings.HasPrefix(s, "+233") {
		return "0" + strings.TrimPrefix(s, "+233")
	}
	return s
}

func GhanaCard(s string) bool { return ghanaCardRe.MatchString(s) }

func VotersID(s string) bool { return votersIDRe.MatchString(s) }

// Salary parses s as a plain decimal amount with at most two fractional
// digits that fits the monthly_salary column. Exponents, hex floats, signs
// and NaN/Inf are rejected.
func Salary(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !salaryRe.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v > MaxSalary {
		return 0, false
	}
	return v, true
}

func tooLong(field string, limit int) error {
	return fail(fmt.Sprintf("%s must be at most %d characters long", field, limit))
}

func checkLength(v string, field string, limit int) error {
	if utf8.RuneCountInString(v) > limit {
		return tooLong(field, limit)
	}
	return nil
}

func checkLengthPtr(v *string, field string, limit int) error {
	if v == nil {
		return nil
	}
	return checkLength(*v, field, limit)
}

// DateOfBirth parses s as YYYY-MM-DD, not in the future.
func DateOfBirth(s string, now time.Time) (time.Time, bool) {
	d, err := time.Parse(dateLayout, s)
	if err != nil || d.After(now) {
		return time.Time{}, false
	}
	return d, true
}

func passwordLength(pw string, msg string) error {
	if len([]rune(pw)) < MinPasswordLength {
		return fail(msg)
	}
	if len(pw) > 72 {
		return fail(MsgPasswordTooLong)
	}
	return nil
}

// ValidateRegistration runs the signup checks in order and stops at the
// first failure: presence, column lengths, email, phone, password length,
// confirmation, Ghana Card, Voters ID, monthly salary, date of birth.
func ValidateRegistration(r Registration) error {
	if blank(r.FirstName) || blank(r.LastName) || blank(r.Email) || blank(r.Phone) ||
		r.Password == "" || r.ConfirmPassword == "" {
		return fail(MsgRequiredFields)
	}
	if err := registrationLengths(r); err != nil {
		return err
	}
	if !Email(r.Email) {
		return fail(MsgEmail)
	}
	if !Phone(r.Phone) {
		return fail(MsgPhone)
	}
	if err := passwordLength(r.Password, MsgPasswordLength); err != nil {
		return err
	}
	if r.Password != r.ConfirmPassword {
		return fail(MsgPasswordMismatch)
	}
	if r.GhanaCardNumber != "" && !GhanaCard(r.GhanaCardNumber) {
		return fail(MsgGhanaCard)
	}
	if r.VotersIDNumber != "" && !VotersID(r.VotersIDNumber) {
		return fail(MsgVotersID)
	}
	if r.MonthlySalary != "" {
		if _, ok := Salary(r.MonthlySalary); !ok {
			return fail(MsgSalary)
		}
	}
	if r.DateOfBirth != "" {
		if _, ok := DateOfBirth(r.DateOfBirth, time.Now()); !ok {
			return fail(MsgDateOfBirth)
		}
	}
	return nil
}

func registrationLengths(r Registration) error {
	checks := []struct {
		v     string
		field string
		limit int
	}{
		{r.FirstName, "First name", MaxNameLength},
		{r.LastName, "Last name", MaxNameLength},
		{r.Email, "Email", MaxEmailLength},
		{r.Address, "Address", MaxAddressLength},
		{r.Occupation, "Occupation", MaxOccupationLength},
	}
	for _, c := range checks {
		if err := checkLength(c.v, c.field, c.limit); err != nil {
			return err
		}
	}
	return nil
}

func ValidateLogin(email, password string) error {
	if blank(email) || password == "" {
		return fail(MsgLoginFields)
	}
	return nil
}

// ValidateProfileUpdate checks the supplied fields of upd. An empty update
// is reported as common.ErrNoFieldsProvided rather than a validation error.
func ValidateProfileUpdate(upd models.ProfileUpdate) error {
	if upd.IsEmpty() {
		return common.ErrNoFieldsProvided
	}

	for _, v := range []*string{upd.FirstName, upd.LastName, upd.Phone} {
		if v != nil && blank(*v) {
			return fail(MsgNameEmpty)
		}
	}
	if err := checkLengthPtr(upd.FirstName, "First name", MaxNameLength); err != nil {
		return err
	}
	if err := checkLengthPtr(upd.LastName, "Last name", MaxNameLength); err != nil {
		return err
	}
	if upd.Phone != nil && !Phone(*upd.Phone) {
		return fail(MsgPhone)
	}
	if err := checkLengthPtr(upd.Address, "Address", MaxAddressLength); err != nil {
		return err
	}
	if err := checkLengthPtr(upd.Occupation, "Occupation", MaxOccupationLength); err != nil {
		return err
	}
	if upd.GhanaCardNumber != nil && *upd.GhanaCardNumber != "" && !GhanaCard(*upd.GhanaCardNumber) {
		return fail(MsgGhanaCard)
	}
	if upd.VotersIDNumber != nil && *upd.VotersIDNumber != "" && !VotersID(*upd.VotersIDNumber) {
		return fail(MsgVotersID)
	}
	if upd.MonthlySalary != nil && *upd.MonthlySalary != "" {
		if _, ok := Salary(*upd.MonthlySalary); !ok {
			return fail(MsgSalary)
		}
	}
	if upd.DateOfBirth != nil && *upd.DateOfBirth != "" {
		if _, ok := DateOfBirth(*upd.DateOfBirth, time.Now()); !ok {
			return fail(MsgDateOfBirth)
		}
	}
	return nil
}

func ValidatePasswordChange(current, next string) error {
	if current == "" || next == "" {
		return fail(MsgPasswordFields)
	}
	return passwordLength(next, MsgNewPasswordLen)
}

func ValidateOTP(code string) error {
	if blank(code) {
		return fail(MsgOTPRequired)
	}
	return nil
}

func ValidateRefreshToken(token string) error {
	if blank(token) {
		return fail(MsgRefreshRequired)
	}
	return nil
}
