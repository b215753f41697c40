package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

const AppName = "Loan App"

const (
	SubjectVerification = "Email Verification - " + AppName
	SubjectWelcome      = "Welcome to " + AppName + "!"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Notifier renders and sends the account emails.
type Notifier struct {
	mailer      Mailer
	from        Address
	frontendURL string
	otpValidity time.Duration
	now         func() time.Time
}

func NewNotifier(mailer Mailer, fromAddress, frontendURL string, otpValidity time.Duration) *Notifier {
	return &Notifier{
		mailer:      mailer,
		from:        Address{Name: AppName, Address: fromAddress},
		frontendURL: strings.TrimRight(frontendURL, "/"),
		otpValidity: otpValidity,
		now:         time.Now,
	}
}

func (n *Notifier) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 && d >= time.Hour {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	m := int(d.Round(time.Minute) / time.Minute)
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}

// SendOTP emails the verification code to the user.
func (n *Notifier) SendOTP(ctx context.Context, email, name, code string) error {
	validity := humanDuration(n.otpValidity)

	html, err := n.render("otp.html", map[string]any{
		"Name":     name,
		"Code":     code,
		"Validity": validity,
		"AppName":  AppName,
		"Year":     n.now().Year(),
	})
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Hello %s,\n\nYour %s verification code is %s. It is valid for %s.\n",
		name, AppName, code, validity)

	return n.mailer.Send(ctx, &Message{
		From:    n.from,
		To:      []Address{{Name: name, Address: email}},
		Subject: SubjectVerification,
		HTML:    html,
		Text:    text,
	})
}

// SendWelcome emails the post-verification welcome message.
func (n *Notifier) SendWelcome(ctx context.Context, email, name string) error {
	dashboard := n.frontendURL + "/dashboard"

	html, err := n.render("welcome.html", map[string]any{
		"Name":         name,
		"DashboardURL": dashboard,
		"AppName":      AppName,
		"Year":         n.now().Year(),
	})
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Hello %s,\n\nYour email has been verified. Visit %s to get started.\n", name, dashboard)

	return n.mailer.Send(ctx, &Message{
		From:    n.from,
		To:      []Address{{Name: name, Address: email}},
		Subject: SubjectWelcome,
		HTML:    html,
		Text:    text,
	})
}
