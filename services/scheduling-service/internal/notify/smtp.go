package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

// SMTPSender sends email via unauthenticated SMTP (Mailpit-compatible). It is
// the email provider when no SendGrid key is configured.
type SMTPSender struct {
	addr string
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(host, port, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil
	}
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@agendamento.local"
	}
	return &SMTPSender{
		addr: net.JoinHostPort(host, strings.TrimSpace(port)),
		from: from,
		send: smtp.SendMail,
	}
}

func (s *SMTPSender) Name() string { return "smtp" }

func (s *SMTPSender) Send(ctx context.Context, msg Message) (string, error) {
	id := fmt.Sprintf("<%s@agendamento>", uuid.NewString())
	raw := buildEmail(s.from, msg.To, msg.Subject, msg.Body, id)

	done := make(chan error, 1)
	go func() { done <- s.send(s.addr, nil, s.from, []string{msg.To}, []byte(raw)) }()
	select {
	case <-ctx.Done():
		return "", Transient(ctx.Err(), "smtp send timed out")
	case err := <-done:
		if err != nil {
			var tpErr *textproto.Error
			if errors.As(err, &tpErr) && tpErr.Code >= 500 {
				return "", Permanent(err, "smtp rejected the message")
			}
			return "", classifyTransport(err, "smtp")
		}
		return id, nil
	}
}

// buildEmail renders a minimal RFC 5322 message; enough for Mailpit and most relays.
func buildEmail(from, to, subject, body, messageID string) string {
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMessage-ID: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from, to, subject, messageID, body,
	)
}
