package mail

import (
	"context"

	"github.com/dmitrijs2005/loanapp/internal/logging"
)

// LogMailer writes messages to the log instead of sending them. It is used
// when no SMTP host is configured.
type LogMailer struct {
	logger logging.Logger
}

var _ Mailer = (*LogMailer)(nil)

func NewLogMailer(logger logging.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("module", "mail")}
}

func (l *LogMailer) Send(ctx context.Context, m *Message) error {
	to := make([]string, len(m.To))
	for i, a := range m.To {
		to[i] = a.Address
	}
	l.logger.Info(ctx, "email not sent, no SMTP host configured",
		"to", to, "subject", m.Subject, "text", m.Text)
	return nil
}
