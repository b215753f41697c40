package models

import (
	"strconv"
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

const dateLayout = "2006-01-02"

// User is the persisted identity record. PasswordHash and the verification
// token digests never leave the service layer; use View for responses.
type User struct {
	ID           int64
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	PasswordHash string
	Role         Role
	Status       Status

	IsEmailVerified            bool
	IsPhoneVerified            bool
	EmailVerificationToken     *string
	EmailVerificationExpiresAt *time.Time
	PhoneVerificationToken     *string

	ProfileImage    *string
	Address         *string
	DateOfBirth     *time.Time
	Occupation      *string
	MonthlySalary   *float64
	GhanaCardNumber *string
	VotersIDNumber  *string

	CreatedAt time.Time
	UpdatedAt time.Time
	LastLogin *time.Time
}

func (u *User) IsActive() bool { return u.Status == StatusActive }

// UserView is the client-facing projection of User.
type UserView struct {
	ID                       int64      `json:"id"`
	FirstName                string     `json:"first_name"`
	LastName                 string     `json:"last_name"`
	Email                    string     `json:"email"`
	Phone                    string     `json:"phone"`
	Role                     Role       `json:"role"`
	Status                   Status     `json:"status"`
	IsEmailVerified          bool       `json:"is_email_verified"`
	IsPhoneVerified          bool       `json:"is_phone_verified"`
	EmailVerificationPending bool       `json:"email_verification_pending"`
	ProfileImage             *string    `json:"profile_image"`
	Address                  *string    `json:"address"`
	DateOfBirth              *string    `json:"date_of_birth"`
	Occupation               *string    `json:"occupation"`
	MonthlySalary            *float64   `json:"monthly_salary"`
	GhanaCardNumber          *string    `json:"ghana_card_number"`
	VotersIDNumber           *string    `json:"voters_id_number"`
	CreatedAt                time.Time  `json:"created_at"`
	LastLogin                *time.Time `json:"last_login"`
}

func (u *User) View() *UserView {
	v := &UserView{
		ID:                       u.ID,
		FirstName:                u.FirstName,
		LastName:                 u.LastName,
		Email:                    u.Email,
		Phone:                    u.Phone,
		Role:                     u.Role,
		Status:                   u.Status,
		IsEmailVerified:          u.IsEmailVerified,
		IsPhoneVerified:          u.IsPhoneVerified,
		EmailVerificationPending: u.EmailVerificationToken != nil,
		ProfileImage:             u.ProfileImage,
		Address:                  u.Address,
		Occupation:               u.Occupation,
		MonthlySalary:            u.MonthlySalary,
		GhanaCardNumber:          u.GhanaCardNumber,
		VotersIDNumber:           u.VotersIDNumber,
		CreatedAt:                u.CreatedAt,
		LastLogin:                u.LastLogin,
	}
	if u.DateOfBirth != nil {
		s := u.DateOfBirth.Format(dateLayout)
		v.DateOfBirth = &s
	}
	return v
}

// ProfileUpdate carries the fields a user may change about themselves.
// A nil pointer means "not supplied". For the optional columns (everything
// except names and phone) an empty string clears the value.
//
// DateOfBirth is "YYYY-MM-DD" and MonthlySalary a decimal string; both are
// validated before they reach the store. The salary is sent to the store as
// a float64, never as the raw string.
type ProfileUpdate struct {
	FirstName       *string
	LastName        *string
	Phone           *string
	Address         *string
	DateOfBirth     *string
	Occupation      *string
	MonthlySalary   *string
	GhanaCardNumber *string
	VotersIDNumber  *string
}

// Assignment is one column = value pair of an UPDATE. A nil Value writes NULL.
type Assignment struct {
	Column string
	Value  any
}

// Assignments lists the supplied fields in a stable column order.
func (p ProfileUpdate) Assignments() []Assignment {
	var out []Assignment

	required := func(col string, v *string) {
		if v != nil {
			out = append(out, Assignment{Column: col, Value: *v})
		}
	}
	optional := func(col string, v *string) {
		if v == nil {
			return
		}
		if *v == "" {
			out = append(out, Assignment{Column: col, Value: nil})
			return
		}
		out = append(out, Assignment{Column: col, Value: *v})
	}

	required("first_name", p.FirstName)
	required("last_name", p.LastName)
	required("phone", p.Phone)
	optional("address", p.Address)
	optional("date_of_birth", p.DateOfBirth)
	optional("occupation", p.Occupation)
	if p.MonthlySalary != nil {
		out = append(out, Assignment{Column: "monthly_salary", Value: salaryValue(*p.MonthlySalary)})
	}
	optional("ghana_card_number", p.GhanaCardNumber)
	optional("voters_id_number", p.VotersIDNumber)

	return out
}

func salaryValue(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return v
}

func (p ProfileUpdate) IsEmpty() bool { return len(p.Assignments()) == 0 }
