// Package seedadmin is the interactive flow behind cmd/seedadmin: it asks
// for the admin's details on the terminal and creates or promotes the
// account.
package seedadmin

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/loanapp/internal/common"
	"github.com/dmitrijs2005/loanapp/internal/server/models"
	"github.com/dmitrijs2005/loanapp/internal/server/validation"
)

// Seeder is implemented by services.UserService.
type Seeder interface {
	EmailRegistered(ctx context.Context, email string) (bool, error)
	SeedAdmin(ctx context.Context, r validation.Registration) (*models.UserView, bool, error)
}

// Run prompts for the admin's email, then for the remaining details and
// password only if the email is not taken yet. An existing account is
// promoted without touching its password.
func Run(ctx context.Context, s Seeder, in *bufio.Reader, out io.Writer) error {
	email, err := GetSimpleText(in, "Admin email", out)
	if err != nil {
		return err
	}

	found, err := s.EmailRegistered(ctx, email)
	if err != nil {
		return err
	}

	r := validation.Registration{Email: email}

	if !found {
		if err := askDetails(in, out, &r); err != nil {
			return err
		}
	}

	view, created, err := s.SeedAdmin(ctx, r)
	if err != nil {
		return err
	}

	if created {
		fmt.Fprintf(out, "Admin %s created (id %d)\n", view.Email, view.ID)
	} else {
		fmt.Fprintf(out, "User %s promoted to admin (id %d)\n", view.Email, view.ID)
	}
	return nil
}

func askDetails(in *bufio.Reader, out io.Writer, r *validation.Registration) error {
	prompts := []struct {
		label string
		dst   *string
	}{
		{"First name", &r.FirstName},
		{"Last name", &r.LastName},
		{"Phone (e.g. 0241234567)", &r.Phone},
	}
	for _, p := range prompts {
		v, err := GetSimpleText(in, p.label, out)
		if err != nil {
			return err
		}
		*p.dst = v
	}

	pw, err := GetPassword("Password", out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	confirm, err := GetPassword("Confirm password", out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(confirm)

	r.Password = string(pw)
	r.ConfirmPassword = string(confirm)
	return nil
}
