package mail

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []*Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, m *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.err
}

func TestNotifier_SendOTP(t *testing.T) {
	fm := &fakeMailer{}
	n := NewNotifier(fm, "no-reply@loanapp.test", "https://app.test/", 10*time.Minute)

	require.NoError(t, n.SendOTP(context.Background(), "kofi@example.com", "Kofi", "482913"))
	require.Len(t, fm.sent, 1)

	m := fm.sent[0]
	assert.Equal(t, "Email Verification - Loan App", m.Subject)
	assert.Equal(t, Address{Name: "Loan App", Address: "no-reply@loanapp.test"}, m.From)
	assert.Equal(t, []Address{{Name: "Kofi", Address: "kofi@example.com"}}, m.To)
	assert.Contains(t, m.HTML, "482913")
	assert.Contains(t, m.HTML, "Hello Kofi")
	assert.Contains(t, m.HTML, "10 minutes")
	assert.Contains(t, m.Text, "482913")
}

func TestNotifier_SendOTP_EscapesName(t *testing.T) {
	fm := &fakeMailer{}
	n := NewNotifier(fm, "a@b.co", "http://x", time.Hour)

	require.NoError(t, n.SendOTP(context.Background(), "a@b.co", "<script>", "123456"))
	assert.NotContains(t, fm.sent[0].HTML, "<script>")
	assert.Contains(t, fm.sent[0].HTML, "1 hour")
}

func TestNotifier_SendWelcome(t *testing.T) {
	fm := &fakeMailer{}
	n := NewNotifier(fm, "no-reply@loanapp.test", "https://app.test/", 10*time.Minute)

	require.NoError(t, n.SendWelcome(context.Background(), "ama@example.com", "Ama"))
	require.Len(t, fm.sent, 1)

	m := fm.sent[0]
	assert.Equal(t, "Welcome to Loan App!", m.Subject)
	assert.Contains(t, m.HTML, `href="https://app.test/dashboard"`)
	assert.Contains(t, m.Text, "https://app.test/dashboard")
}

func TestNotifier_PropagatesMailerError(t *testing.T) {
	fm := &fakeMailer{err: errors.New("smtp down")}
	n := NewNotifier(fm, "a@b.co", "http://x", time.Minute)

	assert.EqualError(t, n.SendWelcome(context.Background(), "a@b.co", "A"), "smtp down")
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "10 minutes", humanDuration(10*time.Minute))
	assert.Equal(t, "1 minute", humanDuration(time.Minute))
	assert.Equal(t, "2 hours", humanDuration(2*time.Hour))
	assert.Equal(t, "90 minutes", humanDuration(90*time.Minute))
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	raw := string(buildMessage(&Message{
		From:    Address{Name: "Loan App", Address: "no-reply@loanapp.test"},
		To:      []Address{{Name: "Kofi", Address: "kofi@example.com"}, {Address: "ops@example.com"}},
		Subject: "Hello",
		HTML:    "<p>hi</p>",
		Text:    "hi",
	}, now))

	assert.Contains(t, raw, "MIME-Version: 1.0\r\n")
	assert.Contains(t, raw, "Subject: Hello\r\n")
	assert.Contains(t, raw, `From: "Loan App" <no-reply@loanapp.test>`)
	assert.Contains(t, raw, `To: "Kofi" <kofi@example.com>, <ops@example.com>`)
	assert.Contains(t, raw, "@loanapp.test>\r\n")
	assert.Contains(t, raw, "Content-Type: text/plain")
	assert.Contains(t, raw, "Content-Type: text/html")
	assert.Contains(t, raw, "Date: Mon, 03 Feb 2025 04:05:06 +0000")
}

func TestBuildMessage_EncodesNonASCIISubject(t *testing.T) {
	raw := string(buildMessage(&Message{Subject: "Akwaaba ✓", Text: "x"}, time.Now()))
	assert.Contains(t, raw, "Subject: =?utf-8?q?")
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	lm := NewLogMailer(logging.New(&buf, "debug", "text"))

	require.NoError(t, lm.Send(context.Background(), &Message{
		To:      []Address{{Address: "kofi@example.com"}},
		Subject: SubjectVerification,
	}))

	out := buf.String()
	assert.Contains(t, out, "kofi@example.com")
	assert.Contains(t, out, "module=mail")
}

// fakeSMTPServer accepts one session and records the DATA payload.
func fakeSMTPServer(t *testing.T) (port int, data <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

		write("220 localhost ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"):
				write("250-localhost")
				write("250 8BITMIME")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				write("250 OK")
			case cmd == "DATA":
				write("354 go ahead")
				var body strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					body.WriteString(l)
				}
				out <- body.String()
				write("250 queued")
			case cmd == "QUIT":
				write("221 bye")
				return
			default:
				write("502 not implemented")
			}
		}
	}()

	_, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ = strconv.Atoi(p)
	return port, out
}

func TestSMTPMailer_Send(t *testing.T) {
	port, data := fakeSMTPServer(t)

	m := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: port})
	err := m.Send(context.Background(), &Message{
		From:    Address{Name: "Loan App", Address: "no-reply@loanapp.test"},
		To:      []Address{{Address: "kofi@example.com"}},
		Subject: "Code",
		Text:    "482913",
	})
	require.NoError(t, err)

	select {
	case body := <-data:
		assert.Contains(t, body, "Subject: Code")
		assert.Contains(t, body, "482913")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive DATA")
	}
}

func TestSMTPMailer_ContextCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	_, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(p)

	// Server accepts but never greets.
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			time.Sleep(time.Second)
			_ = conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: port}).Send(ctx, &Message{Text: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
