// Package provision watches a freshly created tenant domain until it starts
// answering. New subdomains take a while to propagate through DNS and the
// edge; the poller probes the tenant's status endpoint so callers can hold
// the "setting up your workspace" screen exactly as long as needed and not a
// poll longer.
package provision

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

const (
	// defaultInitialDelay gives DNS a head start; probing immediately after
	// create always fails and just burns an attempt.
	defaultInitialDelay = 2 * time.Second

	defaultMaxAttempts = 30

	defaultBaseInterval = 1 * time.Second
	defaultMaxInterval  = 8 * time.Second

	probeTimeout = 5 * time.Second
)

// Probe checks a tenant domain once. Implementations report nil when the
// domain answered at the transport level.
type Probe interface {
	Check(ctx context.Context, domain string) error
}

// HTTPProbe probes the tenant's status endpoint over HTTPS. Any HTTP
// response counts as ready, including 4xx and 5xx: the question is whether
// the domain routes, not whether the application behind it is happy.
type HTTPProbe struct {
	Client *http.Client
}

func (p *HTTPProbe) Check(ctx context.Context, domain string) error {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+domain+"/api/status", nil)
	if err != nil {
		return backoff.Permanent(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Poller waits for newly provisioned tenant domains to become reachable.
type Poller struct {
	probe        Probe
	maxAttempts  uint
	initialDelay time.Duration
	baseInterval time.Duration
	maxInterval  time.Duration
}

// Option configures a Poller.
type Option func(*Poller)

// WithProbe replaces the HTTPS probe, for tests or internal health checks.
func WithProbe(p Probe) Option {
	return func(pl *Poller) { pl.probe = p }
}

// WithMaxAttempts overrides the probe budget.
func WithMaxAttempts(n uint) Option {
	return func(pl *Poller) { pl.maxAttempts = n }
}

// WithTiming overrides the initial delay and the retry intervals.
func WithTiming(initialDelay, baseInterval, maxInterval time.Duration) Option {
	return func(pl *Poller) {
		pl.initialDelay = initialDelay
		pl.baseInterval = baseInterval
		pl.maxInterval = maxInterval
	}
}

// NewPoller creates a poller with an HTTPS status probe.
func NewPoller(opts ...Option) *Poller {
	p := &Poller{
		probe:        &HTTPProbe{},
		maxAttempts:  defaultMaxAttempts,
		initialDelay: defaultInitialDelay,
		baseInterval: defaultBaseInterval,
		maxInterval:  defaultMaxInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PollUntilReady blocks until the domain answers, the attempt budget runs
// out, or ctx is cancelled. It reports whether the domain was confirmed
// reachable. A false return is not fatal: the caller proceeds optimistically
// and the first real navigation retries anyway.
func (p *Poller) PollUntilReady(ctx context.Context, domain string) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.initialDelay):
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.baseInterval
	bo.MaxInterval = p.maxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := p.probe.Check(ctx, domain); err != nil {
			log.Debug().Str("domain", domain).Int("attempt", attempt).Err(err).
				Msg("tenant domain not reachable yet")
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(p.maxAttempts))

	if err != nil {
		log.Warn().Str("domain", domain).Int("attempts", attempt).Err(err).
			Msg("tenant domain never answered, proceeding anyway")
		return false
	}

	log.Info().Str("domain", domain).Int("attempts", attempt).Msg("tenant domain is ready")
	return true
}
