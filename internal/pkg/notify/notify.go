// Package notify delivers client-facing messages such as payment links and
// installment reminders.
package notify

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"
)

// ErrNoAddress is returned when the recipient cannot be reached by the transport.
var ErrNoAddress = errors.New("recipient has no address for this transport")

type Recipient struct {
	Name  string
	Email string
	Phone string
}

type Message struct {
	Subject string
	Body    string
}

// Transport sends one message. Implementations must honour ctx.
type Transport interface {
	Send(ctx context.Context, to Recipient, msg Message) error
}

// LogTransport writes messages to the log instead of delivering them. It is
// the fallback when no SMTP host is configured.
type LogTransport struct{}

func (LogTransport) Send(ctx context.Context, to Recipient, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to.Email == "" && to.Phone == "" {
		return ErrNoAddress
	}
	log.Infof("[Notify] to=%s <%s> subject=%q", to.Name, to.Email, msg.Subject)
	return nil
}
