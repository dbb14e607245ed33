// Package refcheck resolves customers, professionals and services owned by
// the CRM and services modules over HTTP, and answers existence checks for
// references written by this service.
package refcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	CRMURL      string
	ServicesURL string
	// UsersURL is optional; without it user references are accepted as given.
	UsersURL string
	Timeout  time.Duration
}

type Client struct {
	crm      string
	services string
	users    string
	http     *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Client{
		crm:      strings.TrimRight(cfg.CRMURL, "/"),
		services: strings.TrimRight(cfg.ServicesURL, "/"),
		users:    strings.TrimRight(cfg.UsersURL, "/"),
		http:     &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

func (c *Client) Customer(ctx context.Context, id string) (model.Customer, error) {
	var out struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Email string `json:"email"`
	}
	if err := c.get(ctx, c.crm, "customers", id, &out); err != nil {
		return model.Customer{}, err
	}
	return model.Customer{ID: out.ID, Name: out.Name, Phone: out.Phone, Email: out.Email}, nil
}

func (c *Client) Professional(ctx context.Context, id string) (model.Professional, error) {
	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.get(ctx, c.services, "professionals", id, &out); err != nil {
		return model.Professional{}, err
	}
	return model.Professional{ID: out.ID, Name: out.Name}, nil
}

func (c *Client) Service(ctx context.Context, id string) (model.Service, error) {
	var out struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if err := c.get(ctx, c.services, "services", id, &out); err != nil {
		return model.Service{}, err
	}
	return model.Service{ID: out.ID, Name: out.Name, DurationMinutes: out.DurationMinutes}, nil
}

// CheckReference reports whether id exists for kind. A collaborator outage is
// an error, not a false.
func (c *Client) CheckReference(ctx context.Context, kind model.RefKind, id string) (bool, error) {
	var err error
	switch kind {
	case model.RefCustomer:
		_, err = c.Customer(ctx, id)
	case model.RefProfessional:
		_, err = c.Professional(ctx, id)
	case model.RefService:
		_, err = c.Service(ctx, id)
	case model.RefUser:
		if c.users == "" {
			return true, nil
		}
		var out struct {
			ID string `json:"id"`
		}
		err = c.get(ctx, c.users, "users", id, &out)
	default:
		return false, apperr.New(apperr.Validation, "unknown reference kind %q", kind)
	}
	if errors.Is(err, apperr.NotFound) {
		return false, nil
	}
	return err == nil, err
}

func (c *Client) get(ctx context.Context, base, resource, id string, dst any) error {
	if base == "" {
		return apperr.New(apperr.ConfigurationMissing, "no upstream configured for %s", resource)
	}
	endpoint := fmt.Sprintf("%s/%s/%s", base, resource, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", resource, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.ProviderTransientFailure, err, "%s lookup failed", resource)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return apperr.New(apperr.NotFound, "%s %s not found", strings.TrimSuffix(resource, "s"), id)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperr.New(apperr.ProviderTransientFailure, "%s lookup returned %d", resource, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%s lookup returned %d", resource, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", resource, err)
	}
	return nil
}
