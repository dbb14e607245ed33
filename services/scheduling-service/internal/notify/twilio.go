package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// From is the sender number in E.164 form, without the whatsapp: prefix.
	From           string
	StatusCallback string
	Timeout        time.Duration
}

// TwilioSender sends WhatsApp or SMS messages through the Twilio Messages API.
type TwilioSender struct {
	api      messageCreator
	channel  model.Channel
	from     string
	callback string
}

// NewTwilioSender returns nil when credentials are missing.
func NewTwilioSender(cfg TwilioConfig, channel model.Channel) *TwilioSender {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil
	}
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	return &TwilioSender{api: rc.Api, channel: channel, from: cfg.From, callback: cfg.StatusCallback}
}

func (s *TwilioSender) Name() string { return "twilio-" + string(s.channel) }

func (s *TwilioSender) Send(ctx context.Context, msg Message) (string, error) {
	to, from := msg.To, s.from
	if s.channel == model.ChannelWhatsApp {
		to, from = whatsappAddress(to), whatsappAddress(from)
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(msg.Body)
	if s.callback != "" {
		params.SetStatusCallback(s.callback)
	}

	// The Twilio client is not context aware; run the call so ctx can bound it.
	type result struct {
		msg *openapi.ApiV2010Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := s.api.CreateMessage(params)
		done <- result{m, err}
	}()
	select {
	case <-ctx.Done():
		return "", Transient(ctx.Err(), "twilio send timed out")
	case r := <-done:
		if r.err != nil {
			return "", classifyTwilio(r.err)
		}
		if r.msg == nil || r.msg.Sid == nil {
			return "", nil
		}
		return *r.msg.Sid, nil
	}
}

func classifyTwilio(err error) error {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) {
		return classifyHTTP(restErr.Status, err, "twilio")
	}
	return classifyTransport(err, "twilio")
}

func whatsappAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

// TwilioSignatureValidator checks X-Twilio-Signature on status callbacks.
type TwilioSignatureValidator struct {
	v client.RequestValidator
}

func NewTwilioSignatureValidator(authToken string) *TwilioSignatureValidator {
	if authToken == "" {
		return nil
	}
	return &TwilioSignatureValidator{v: client.NewRequestValidator(authToken)}
}

func (t *TwilioSignatureValidator) Valid(url string, params map[string]string, signature string) bool {
	return signature != "" && t.v.Validate(url, params, signature)
}
