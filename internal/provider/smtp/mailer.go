// Package smtp implements provider.Mailer over SMTP with STARTTLS.
package smtp

import (
	"context"
	"fmt"
	"strings"

	gomail "gopkg.in/gomail.v2"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
)

// sender abstracts gomail's dialer so tests can intercept sends.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends HTML email through an SMTP relay.
type Mailer struct {
	from   string
	dialer sender
}

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// New creates a Mailer. Host and From must be set; Validate at config
// load time guarantees this for the server path.
func New(cfg Config) *Mailer {
	return &Mailer{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// NewWithSender creates a Mailer around a custom sender (for tests).
func NewWithSender(from string, s sender) *Mailer {
	return &Mailer{from: from, dialer: s}
}

// Send delivers one message. gomail has no context support, so the
// send runs in a goroutine and the call returns early on cancellation;
// the connection is abandoned, not reused.
func (m *Mailer) Send(ctx context.Context, msg provider.Email) error {
	if len(msg.To) == 0 {
		return &provider.DeliveryError{
			RecipientRejected: true,
			Err:               fmt.Errorf("no recipients"),
		}
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.To...)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/html", msg.HTMLBody)

	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(gm)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return classify(msg.To, err)
		}
		return nil
	}
}

// classify distinguishes recipient rejections (5xx address errors)
// from transport failures.
func classify(recipients []string, err error) error {
	text := err.Error()
	rejected := strings.Contains(text, "550") ||
		strings.Contains(text, "551") ||
		strings.Contains(text, "553") ||
		strings.Contains(strings.ToLower(text), "recipient")

	return &provider.DeliveryError{
		Recipients:        recipients,
		RecipientRejected: rejected,
		Err:               err,
	}
}
