package notify

import (
	"context"
	"errors"
	"net"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

// Message is one rendered notification ready for a provider.
type Message struct {
	NotificationID string
	CompanyID      string
	Channel        model.Channel
	To             string
	ToName         string
	Subject        string
	Body           string
}

// Provider delivers messages on one channel. Errors should be classified with
// Transient or Permanent; unclassified errors are treated as transient.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (providerMessageID string, err error)
}

func Transient(err error, format string, args ...any) error {
	return apperr.Wrap(apperr.ProviderTransientFailure, err, format, args...)
}

func Permanent(err error, format string, args ...any) error {
	return apperr.Wrap(apperr.ProviderPermanentFailure, err, format, args...)
}

// classifyHTTP maps a provider HTTP status to a failure kind: throttling and
// server errors are transient, other client errors permanent.
func classifyHTTP(status int, err error, provider string) error {
	if status == 429 || status >= 500 {
		return Transient(err, "%s returned %d", provider, status)
	}
	return Permanent(err, "%s rejected the message with %d", provider, status)
}

// classifyTransport treats timeouts and network errors as transient.
func classifyTransport(err error, provider string) error {
	if apperr.KindOf(err) != "" {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return Transient(err, "%s unreachable", provider)
	}
	return Transient(err, "%s request failed", provider)
}
