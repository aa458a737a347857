// Package enrich resolves display identities for user ids with a bounded
// latency, so that callers can always make progress without them.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/V4T54L/msgtap/internal/adapter/metrics"
	"github.com/V4T54L/msgtap/internal/domain"
)

// ErrRateLimited is reported when the limiter cannot admit a lookup before
// the timeout.
var ErrRateLimited = errors.New("identity lookup rate limited")

// Reporter receives enrichment failures. *diag.Diagnostics satisfies it.
type Reporter interface {
	Error(msg string, args ...any)
}

// Config bounds the service.
type Config struct {
	Timeout   time.Duration
	RateLimit float64 // lookups per second; <= 0 disables limiting
	Burst     int
}

// Service wraps an IdentityResolver with a timeout, a rate limit and panic
// containment. Resolve never fails; on any problem it returns an empty
// identity.
type Service struct {
	resolver domain.IdentityResolver
	timeout  time.Duration
	limiter  *rate.Limiter
	reporter Reporter
	metrics  *metrics.PipelineMetrics
}

// NewService creates a Service. reporter and m may be nil.
func NewService(resolver domain.IdentityResolver, cfg Config, reporter Reporter, m *metrics.PipelineMetrics) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Service{
		resolver: resolver,
		timeout:  cfg.Timeout,
		limiter:  limiter,
		reporter: reporter,
		metrics:  m,
	}
}

type result struct {
	identity domain.Identity
	err      error
}

// Resolve looks up userID. It returns within the configured timeout even if
// the underlying resolver never does.
func (s *Service) Resolve(ctx context.Context, userID string) domain.Identity {
	if s == nil || s.resolver == nil || userID == "" {
		return domain.Identity{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	identity, status, err := s.resolve(ctx, userID)
	if s.metrics != nil {
		s.metrics.EnrichmentTotal.WithLabelValues(status).Inc()
		s.metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if s.reporter != nil {
			s.reporter.Error("identity enrichment failed", "user_id", userID, "status", status, "error", err)
		}
		return domain.Identity{}
	}
	return identity
}

func (s *Service) resolve(ctx context.Context, userID string) (domain.Identity, string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return domain.Identity{}, "rate_limited", fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}

	// Buffered so the goroutine can finish after we stop waiting.
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("identity resolver panicked: %v", r)}
			}
		}()
		id, err := s.resolver.ResolveIdentity(ctx, userID)
		done <- result{identity: id, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return domain.Identity{}, "error", res.err
		}
		if res.identity.IsZero() {
			return res.identity, "empty", nil
		}
		return res.identity, "ok", nil
	case <-ctx.Done():
		return domain.Identity{}, "timeout", ctx.Err()
	}
}

// Prefetch warms the resolver's cache for ids when it supports batch
// lookups. It is bounded by the same timeout as Resolve and never fails.
func (s *Service) Prefetch(ctx context.Context, userIDs []string) {
	if s == nil || len(userIDs) < 2 {
		return
	}
	batch, ok := s.resolver.(domain.BatchIdentityResolver)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("batch identity resolver panicked: %v", r)
			}
		}()
		_, err := batch.ResolveMany(ctx, userIDs)
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil && s.reporter != nil {
		s.reporter.Error("identity prefetch failed", "users", len(userIDs), "error", err)
	}
}
