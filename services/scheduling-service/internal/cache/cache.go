// Package cache is a read-through, pattern-invalidated Redis cache for derived
// availability and calendar payloads. It never holds authoritative state: every
// failure degrades to computing the value directly.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	NamespaceAvailability = "availability"
	NamespaceCalendar     = "calendar"

	allProfessionals = "all"
	genPrefix        = "cachegen"
)

type Key struct {
	Namespace      string
	CompanyID      string
	ProfessionalID string
	Dims           []string
}

// String renders {namespace}:{company}:{professional|all}:{dims...}.
func (k Key) String() string {
	prof := k.ProfessionalID
	if prof == "" {
		prof = allProfessionals
	}
	parts := append([]string{k.Namespace, k.CompanyID, prof}, k.Dims...)
	return strings.Join(parts, ":")
}

type Options struct {
	AvailabilityTTL time.Duration
	CalendarTTL     time.Duration
	// Timeout bounds every Redis round trip.
	Timeout time.Duration
}

// Observer receives cache outcomes; nil is allowed.
type Observer interface {
	CacheResult(namespace, result string)
}

type Cache struct {
	rdb      redis.UniversalClient
	opts     Options
	logger   *slog.Logger
	observer Observer
}

func New(rdb redis.UniversalClient, opts Options, logger *slog.Logger, observer Observer) *Cache {
	if opts.AvailabilityTTL <= 0 {
		opts.AvailabilityTTL = 30 * time.Minute
	}
	if opts.CalendarTTL <= 0 {
		opts.CalendarTTL = 5 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 200 * time.Millisecond
	}
	return &Cache{rdb: rdb, opts: opts, logger: logger, observer: observer}
}

// Remember decodes the cached value for k into dst. On a miss it calls fill,
// which must populate dst, and stores the result. Cache errors are logged and
// fall through to fill; only fill's error is returned.
func (c *Cache) Remember(ctx context.Context, k Key, dst any, fill func(context.Context) error) error {
	if c == nil || c.rdb == nil {
		return fill(ctx)
	}

	key, err := c.versionedKey(ctx, k)
	if err != nil {
		c.degraded(k.Namespace, "read", err)
		return fill(ctx)
	}

	raw, err := c.get(ctx, key)
	switch {
	case err == nil:
		jerr := json.Unmarshal(raw, dst)
		if jerr == nil {
			c.observe(k.Namespace, "hit")
			return nil
		}
		c.degraded(k.Namespace, "decode", fmt.Errorf("decode %s: %w", key, jerr))
	case errors.Is(err, redis.Nil):
		c.observe(k.Namespace, "miss")
	default:
		c.degraded(k.Namespace, "read", err)
		return fill(ctx)
	}

	if err := fill(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(dst)
	if err != nil {
		c.degraded(k.Namespace, "encode", err)
		return nil
	}
	if err := c.set(ctx, key, payload, c.ttl(k.Namespace)); err != nil {
		c.degraded(k.Namespace, "write", err)
	}
	return nil
}

// InvalidateProfessional drops every availability entry of the professional
// and every calendar entry of the company.
func (c *Cache) InvalidateProfessional(ctx context.Context, companyID, professionalID string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.invalidate(ctx,
		[]string{professionalGen(companyID, professionalID), calendarGen(companyID)},
		[]string{
			Key{Namespace: NamespaceAvailability, CompanyID: companyID, ProfessionalID: professionalID}.String() + ":*",
			Key{Namespace: NamespaceCalendar, CompanyID: companyID}.prefix() + ":*",
		},
	)
}

// InvalidateCompany drops every availability and calendar entry of the company.
func (c *Cache) InvalidateCompany(ctx context.Context, companyID string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.invalidate(ctx,
		[]string{companyGen(companyID), calendarGen(companyID)},
		[]string{
			Key{Namespace: NamespaceAvailability, CompanyID: companyID}.prefix() + ":*",
			Key{Namespace: NamespaceCalendar, CompanyID: companyID}.prefix() + ":*",
		},
	)
}

// Ping reports whether Redis answers within the configured timeout.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return errors.New("cache not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// invalidate bumps the generation counters first so that a read computed
// before the write can no longer be stored under a key later readers use,
// then deletes the matching keys.
func (c *Cache) invalidate(ctx context.Context, gens []string, patterns []string) error {
	ctx, cancel := context.WithTimeout(ctx, 4*c.opts.Timeout)
	defer cancel()

	pipe := c.rdb.Pipeline()
	for _, g := range gens {
		pipe.Incr(ctx, g)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}

	var errs []error
	for _, p := range patterns {
		if err := c.deletePattern(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *Cache) versionedKey(ctx context.Context, k Key) (string, error) {
	var gens []string
	switch k.Namespace {
	case NamespaceCalendar:
		gens = []string{calendarGen(k.CompanyID)}
	default:
		gens = []string{companyGen(k.CompanyID)}
		if k.ProfessionalID != "" {
			gens = append(gens, professionalGen(k.CompanyID, k.ProfessionalID))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	vals, err := c.rdb.MGet(ctx, gens...).Result()
	if err != nil {
		return "", err
	}
	version := make([]string, len(vals))
	for i, v := range vals {
		s, _ := v.(string)
		if s == "" {
			s = "0"
		}
		version[i] = s
	}
	return k.String() + ":v" + strings.Join(version, "."), nil
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return c.rdb.Get(ctx, key).Bytes()
}

func (c *Cache) set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return c.rdb.Set(ctx, key, payload, ttl).Err()
}

func (c *Cache) ttl(namespace string) time.Duration {
	if namespace == NamespaceCalendar {
		return c.opts.CalendarTTL
	}
	return c.opts.AvailabilityTTL
}

func (c *Cache) degraded(namespace, op string, err error) {
	c.observe(namespace, "error")
	if c.logger != nil {
		c.logger.Warn("cache degraded, computing directly", "namespace", namespace, "op", op, "err", err)
	}
}

func (c *Cache) observe(namespace, result string) {
	if c.observer != nil {
		c.observer.CacheResult(namespace, result)
	}
}

func (k Key) prefix() string {
	return k.Namespace + ":" + k.CompanyID
}

func companyGen(companyID string) string {
	return genPrefix + ":" + companyID
}

func professionalGen(companyID, professionalID string) string {
	return genPrefix + ":" + companyID + ":p:" + professionalID
}

func calendarGen(companyID string) string {
	return genPrefix + ":" + companyID + ":calendar"
}
