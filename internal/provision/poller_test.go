package provision

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// flakyProbe fails the first failures calls, then succeeds.
type flakyProbe struct {
	failures int32
	calls    atomic.Int32
}

func (p *flakyProbe) Check(ctx context.Context, domain string) error {
	if p.calls.Add(1) <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func fastTiming() Option {
	return WithTiming(time.Millisecond, time.Millisecond, 5*time.Millisecond)
}

func TestPoller_PollUntilReady(t *testing.T) {
	t.Run("succeeds once the domain answers", func(t *testing.T) {
		probe := &flakyProbe{failures: 3}
		p := NewPoller(WithProbe(probe), fastTiming())

		ready := p.PollUntilReady(context.Background(), "acme.nestcrm.com.au")

		require.True(t, ready)
		require.Equal(t, int32(4), probe.calls.Load())
	})

	t.Run("gives up after the attempt budget", func(t *testing.T) {
		probe := &flakyProbe{failures: 100}
		p := NewPoller(WithProbe(probe), WithMaxAttempts(5), fastTiming())

		ready := p.PollUntilReady(context.Background(), "acme.nestcrm.com.au")

		require.False(t, ready)
		require.Equal(t, int32(5), probe.calls.Load())
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		probe := &flakyProbe{failures: 100}
		p := NewPoller(WithProbe(probe), WithTiming(time.Millisecond, 50*time.Millisecond, 50*time.Millisecond))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		ready := p.PollUntilReady(ctx, "acme.nestcrm.com.au")

		require.False(t, ready)
		require.Less(t, time.Since(start), time.Second)
	})

	t.Run("cancelled before the initial delay probes nothing", func(t *testing.T) {
		probe := &flakyProbe{}
		p := NewPoller(WithProbe(probe), WithTiming(time.Hour, time.Millisecond, time.Millisecond))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		require.False(t, p.PollUntilReady(ctx, "acme.nestcrm.com.au"))
		require.Zero(t, probe.calls.Load())
	})
}

func TestHTTPProbe(t *testing.T) {
	t.Run("any HTTP status counts as reachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/status", r.URL.Path)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		// Point the probe's client at the test server regardless of the
		// https:// URL it builds.
		probe := &HTTPProbe{Client: &http.Client{
			Transport: rewriteTransport{target: srv.URL},
		}}

		require.NoError(t, probe.Check(context.Background(), "acme.nestcrm.com.au"))
	})

	t.Run("transport errors are not reachable", func(t *testing.T) {
		probe := &HTTPProbe{Client: &http.Client{Timeout: 100 * time.Millisecond}}
		err := probe.Check(context.Background(), "localhost:1")
		require.Error(t, err)
	})
}

type rewriteTransport struct {
	target string
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	trimmed := strings.TrimPrefix(t.target, "http://")
	req.URL.Scheme = "http"
	req.URL.Host = trimmed
	return http.DefaultTransport.RoundTrip(req)
}
