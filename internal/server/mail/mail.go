// Package mail sends transactional email: the verification code after
// signup and the welcome message after verification.
package mail

import "context"

type Mailer interface {
	Send(context.Context, *Message) error
}

type Address struct {
	Name    string
	Address string
}

type Message struct {
	From    Address
	To      []Address
	Subject string
	HTML    string
	Text    string
}
