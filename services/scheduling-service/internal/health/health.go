// Package health aggregates dependency checks and publishes them over the
// HTTP health endpoints and the standard gRPC health service.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/agendamento/libs/runtime"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "scheduling.v1.SchedulingService"

type Checker struct {
	checks  []runtime.ReadyCheck
	timeout time.Duration
}

func NewChecker(timeout time.Duration, checks ...runtime.ReadyCheck) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{checks: checks, timeout: timeout}
}

// Checks returns the configured checks for runtime.MountHealth.
func (c *Checker) Checks() []runtime.ReadyCheck {
	return c.checks
}

// Check runs every check and joins the failures.
func (c *Checker) Check(ctx context.Context) error {
	var errs []error
	for _, check := range c.checks {
		if check.Check == nil {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := check.Check(cctx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", check.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Register installs the gRPC health service on srv and returns it so Watch
// can keep its status current.
func Register(srv *grpc.Server) *grpchealth.Server {
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return hs
}

// Watch re-runs the checks every interval and mirrors the result into hs
// until ctx is done. On exit every service is marked NOT_SERVING.
func (c *Checker) Watch(ctx context.Context, hs *grpchealth.Server, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	last := healthpb.HealthCheckResponse_UNKNOWN
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if err := c.Check(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if last != status {
				logger.Warn("dependency check failing", "err", err)
			}
		}
		if status != last {
			hs.SetServingStatus("", status)
			hs.SetServingStatus(ServiceName, status)
			last = status
		}
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}
