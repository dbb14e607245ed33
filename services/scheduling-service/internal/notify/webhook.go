package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
)

const maxWebhookBody = 1 << 20

type DeliveryApplier interface {
	ApplyDeliveryUpdate(ctx context.Context, u DeliveryUpdate) (Outcome, error)
}

type WebhookConfig struct {
	TwilioAuthToken string
	// PublicURL is the callback URL as Twilio signs it. Empty rebuilds it from the request.
	PublicURL       string
	MetaAppSecret   string
	MetaVerifyToken string
	QueueSize       int
	Workers         int
	// UnmatchedRetryDelay is how long an unmatched receipt waits before its
	// single retry. Twilio may call back before the send is recorded.
	UnmatchedRetryDelay time.Duration
}

// receipt is a queued delivery update; retried marks the second attempt of
// an unmatched one.
type receipt struct {
	update  DeliveryUpdate
	retried bool
}

// WebhookHandler accepts WhatsApp delivery receipts from Twilio (form posts)
// and the WhatsApp Cloud API (JSON). Receipts are queued and applied by
// background workers so the provider gets its 200 right away.
type WebhookHandler struct {
	applier    DeliveryApplier
	twilio     *TwilioSignatureValidator
	publicURL  string
	metaSecret string
	metaVerify string
	workers    int
	retryDelay time.Duration
	queue      chan receipt
	observer   Observer
	logger     *slog.Logger
}

func NewWebhookHandler(applier DeliveryApplier, cfg WebhookConfig, observer Observer, logger *slog.Logger) *WebhookHandler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.UnmatchedRetryDelay <= 0 {
		cfg.UnmatchedRetryDelay = 3 * time.Second
	}
	return &WebhookHandler{
		applier:    applier,
		twilio:     NewTwilioSignatureValidator(cfg.TwilioAuthToken),
		publicURL:  cfg.PublicURL,
		metaSecret: cfg.MetaAppSecret,
		metaVerify: cfg.MetaVerifyToken,
		workers:    cfg.Workers,
		retryDelay: cfg.UnmatchedRetryDelay,
		queue:      make(chan receipt, cfg.QueueSize),
		observer:   observer,
		logger:     logger,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verify(w, r)
	case http.MethodPost:
		h.receive(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verify answers the WhatsApp Cloud API subscription handshake.
func (h *WebhookHandler) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.metaVerify == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.metaVerify {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.event("unreadable")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var updates []DeliveryUpdate
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if h.metaSecret != "" && !validMetaSignature(h.metaSecret, body, r.Header.Get("X-Hub-Signature-256")) {
			h.event("bad_signature")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		updates, err = parseMetaStatuses(body)
	} else {
		var form url.Values
		form, err = url.ParseQuery(string(body))
		if err == nil && h.twilio != nil && !h.twilio.Valid(h.callbackURL(r), flatten(form), r.Header.Get("X-Twilio-Signature")) {
			h.event("bad_signature")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if err == nil {
			updates = parseTwilioStatus(form)
		}
	}
	if err != nil {
		h.event("malformed")
		h.logger.Warn("malformed delivery webhook", "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	for _, u := range updates {
		select {
		case h.queue <- receipt{update: u}:
		default:
			h.event("dropped")
			h.logger.Error("delivery webhook queue full, receipt dropped", "provider_message_id", u.ProviderMessageID)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// Run applies queued receipts until ctx is done.
func (h *WebhookHandler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < h.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case rc := <-h.queue:
					h.apply(ctx, rc)
				}
			}
		}()
	}
	wg.Wait()
}

func (h *WebhookHandler) apply(ctx context.Context, rc receipt) {
	u := rc.update
	actx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	outcome, err := h.applier.ApplyDeliveryUpdate(actx, u)
	if err != nil {
		h.event("error")
		h.logger.Error("delivery receipt failed", "provider_message_id", u.ProviderMessageID, "err", err)
		return
	}
	if outcome == OutcomeUnmatched && !rc.retried {
		h.event("requeued")
		h.requeue(ctx, receipt{update: u, retried: true})
		return
	}
	h.event(string(outcome))
	switch outcome {
	case OutcomeUnmatched:
		h.logger.Warn("delivery receipt for unknown message discarded",
			"provider_message_id", u.ProviderMessageID, "status", string(u.Status))
	case OutcomeOutOfOrder:
		h.logger.Info("stale delivery receipt discarded",
			"provider_message_id", u.ProviderMessageID, "status", string(u.Status))
	}
}

// requeue offers rc to the workers again after the retry delay. A full queue
// or a stopped handler drops it.
func (h *WebhookHandler) requeue(ctx context.Context, rc receipt) {
	time.AfterFunc(h.retryDelay, func() {
		if ctx.Err() != nil {
			return
		}
		select {
		case h.queue <- rc:
		default:
			h.event("dropped")
			h.logger.Error("delivery webhook queue full, receipt dropped", "provider_message_id", rc.update.ProviderMessageID)
		}
	})
}

func (h *WebhookHandler) callbackURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (h *WebhookHandler) event(outcome string) {
	if h.observer != nil {
		h.observer.WebhookEvent(outcome)
	}
}

func flatten(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func parseTwilioStatus(form url.Values) []DeliveryUpdate {
	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	status, ok := providerStatus(form.Get("MessageStatus"))
	if sid == "" || !ok {
		return nil
	}
	u := DeliveryUpdate{ProviderMessageID: sid, Status: status}
	if code := form.Get("ErrorCode"); code != "" && status == model.NotificationFailed {
		u.ErrorDetail = "twilio error " + code
	}
	return []DeliveryUpdate{u}
}

type metaWebhook struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []struct {
					ID        string `json:"id"`
					Status    string `json:"status"`
					Timestamp string `json:"timestamp"`
					Errors    []struct {
						Code  int    `json:"code"`
						Title string `json:"title"`
					} `json:"errors"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func parseMetaStatuses(body []byte) ([]DeliveryUpdate, error) {
	var payload metaWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	var out []DeliveryUpdate
	for _, e := range payload.Entry {
		for _, c := range e.Changes {
			for _, s := range c.Value.Statuses {
				status, ok := providerStatus(s.Status)
				if s.ID == "" || !ok {
					continue
				}
				u := DeliveryUpdate{ProviderMessageID: s.ID, Status: status}
				if sec, err := strconv.ParseInt(s.Timestamp, 10, 64); err == nil {
					u.At = time.Unix(sec, 0).UTC()
				}
				if len(s.Errors) > 0 {
					u.ErrorDetail = strconv.Itoa(s.Errors[0].Code) + " " + s.Errors[0].Title
				}
				out = append(out, u)
			}
		}
	}
	return out, nil
}

// providerStatus maps Twilio and Cloud API status names onto log statuses.
// Intermediate states (accepted, sending) carry no information and are ignored.
func providerStatus(s string) (model.NotificationStatus, bool) {
	switch strings.ToLower(s) {
	case "queued":
		return model.NotificationQueued, true
	case "sent":
		return model.NotificationSent, true
	case "delivered":
		return model.NotificationDelivered, true
	case "read":
		return model.NotificationRead, true
	case "failed", "undelivered":
		return model.NotificationFailed, true
	}
	return "", false
}

func validMetaSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header[len(prefix):]))
}
