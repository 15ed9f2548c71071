package a2a

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/budprat/agentic-5-sub002/pkg/httputil"
	"github.com/budprat/agentic-5-sub002/runtime/logger"
	metrics "github.com/budprat/agentic-5-sub002/runtime/metrics/prometheus"
)

// PoolOption configures a [Pool].
type PoolOption func(*Pool)

// WithMaxConnsPerHost sets the per-endpoint connection cap.
func WithMaxConnsPerHost(n int) PoolOption {
	return func(p *Pool) { p.maxConnsPerHost = n }
}

// WithMaxIdlePerHost sets the per-endpoint idle keep-alive cap.
func WithMaxIdlePerHost(n int) PoolOption {
	return func(p *Pool) { p.maxIdlePerHost = n }
}

// WithIdleTimeout sets how long idle keep-alive connections are kept.
func WithIdleTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.idleTimeout = d }
}

// WithHealthCheckInterval sets the background probe interval.
func WithHealthCheckInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.healthInterval = d }
}

// WithProbeTimeout sets the per-probe deadline.
func WithProbeTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.probeTimeout = d }
}

// WithBaseTransport overrides the underlying round tripper. Used in tests.
func WithBaseTransport(rt http.RoundTripper) PoolOption {
	return func(p *Pool) { p.baseTransport = rt }
}

// Session is a pooled HTTP client handle for one endpoint. Sessions are
// safe for concurrent use and are shared by every caller that acquires
// the same endpoint.
type Session struct {
	endpoint string
	client   *http.Client
	created  time.Time

	requests int64
	healthy  atomic.Bool
}

// Endpoint returns the base URL this session is bound to.
func (s *Session) Endpoint() string { return s.endpoint }

// Do executes req on the pooled client and counts the request against
// the session.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&s.requests, 1)
	return s.client.Do(req)
}

// Healthy reports the result of the most recent probe. Sessions start
// healthy until a probe says otherwise.
func (s *Session) Healthy() bool { return s.healthy.Load() }

// Requests returns the number of requests issued through this session.
func (s *Session) Requests() int64 { return atomic.LoadInt64(&s.requests) }

// PoolStats is a snapshot of pool activity counters.
type PoolStats struct {
	Created      int64
	Reused       int64
	Closed       int64
	HealthChecks int64
}

// ReuseRate returns reused / (created + reused), or 0 before first use.
func (s PoolStats) ReuseRate() float64 {
	total := s.Created + s.Reused
	if total == 0 {
		return 0
	}
	return float64(s.Reused) / float64(total)
}

// Pool maintains one persistent HTTP session per agent endpoint. Session
// creation is race-free: at most one session per endpoint exists at any
// time. A background task probes each endpoint's agent card and replaces
// sessions that fail the probe.
type Pool struct {
	maxConnsPerHost int
	maxIdlePerHost  int
	idleTimeout     time.Duration
	healthInterval  time.Duration
	probeTimeout    time.Duration
	baseTransport   http.RoundTripper

	mu       sync.RWMutex
	sessions map[string]*Session

	created      int64
	reused       int64
	closed       int64
	healthChecks int64

	probeLimiter *rate.Limiter

	healthCancel context.CancelFunc
	healthDone   chan struct{}
	shutdownOnce sync.Once
}

// NewPool creates a connection pool and starts its health-check task.
// Call Shutdown to stop it.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		maxConnsPerHost: httputil.DefaultMaxConnsPerHost,
		maxIdlePerHost:  httputil.DefaultMaxIdleConnsPerHost,
		idleTimeout:     httputil.DefaultIdleConnTimeout,
		healthInterval:  5 * time.Minute,
		probeTimeout:    httputil.DefaultProbeTimeout,
		sessions:        make(map[string]*Session),
		healthDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	// Probes are paced so a large registry cannot burst the network.
	p.probeLimiter = rate.NewLimiter(rate.Limit(10), 10)

	ctx, cancel := context.WithCancel(context.Background())
	p.healthCancel = cancel
	go p.healthLoop(ctx)

	return p
}

// Acquire returns the session for endpoint, creating it on first use.
// The call never blocks on network activity.
func (p *Pool) Acquire(endpoint string) *Session {
	p.mu.RLock()
	if s, ok := p.sessions[endpoint]; ok {
		p.mu.RUnlock()
		atomic.AddInt64(&p.reused, 1)
		metrics.RecordPoolSessionReused(endpoint)
		return s
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check under the write lock.
	if s, ok := p.sessions[endpoint]; ok {
		atomic.AddInt64(&p.reused, 1)
		metrics.RecordPoolSessionReused(endpoint)
		return s
	}

	s := p.newSession(endpoint)
	p.sessions[endpoint] = s
	atomic.AddInt64(&p.created, 1)
	metrics.RecordPoolSessionCreated(endpoint)
	logger.Debug("pool session created", "endpoint", endpoint)
	return s
}

func (p *Pool) newSession(endpoint string) *Session {
	base := p.baseTransport
	if base == nil {
		base = httputil.NewKeepAliveTransport(p.maxConnsPerHost, p.maxIdlePerHost, p.idleTimeout)
	}
	s := &Session{
		endpoint: endpoint,
		client: &http.Client{
			Transport: otelhttp.NewTransport(base),
		},
		created: time.Now(),
	}
	s.healthy.Store(true)
	return s
}

// Probe issues a health probe against endpoint and returns availability.
// A 200 on the agent card path is the only healthy answer.
func (p *Pool) Probe(ctx context.Context, endpoint string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+AgentCardPath, http.NoBody)
	if err != nil {
		return false
	}

	s := p.Acquire(endpoint)
	resp, err := s.Do(req)
	atomic.AddInt64(&p.healthChecks, 1)
	if err != nil {
		metrics.RecordPoolHealthCheck(endpoint, false)
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	metrics.RecordPoolHealthCheck(endpoint, ok)
	return ok
}

// healthLoop probes every known endpoint once per interval and evicts
// sessions that fail, so the next Acquire builds a fresh one.
func (p *Pool) healthLoop(ctx context.Context) {
	defer close(p.healthDone)

	ticker := time.NewTicker(p.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Pool) probeAll(ctx context.Context) {
	p.mu.RLock()
	endpoints := make([]string, 0, len(p.sessions))
	for ep := range p.sessions {
		endpoints = append(endpoints, ep)
	}
	p.mu.RUnlock()

	for _, ep := range endpoints {
		if err := p.probeLimiter.Wait(ctx); err != nil {
			return
		}
		if !p.Probe(ctx, ep) {
			logger.Warn("pool session unhealthy, evicting", "endpoint", ep)
			p.evict(ep)
		}
	}
}

// evict removes the session for endpoint and closes its idle connections.
func (p *Pool) evict(endpoint string) {
	p.mu.Lock()
	s, ok := p.sessions[endpoint]
	if ok {
		delete(p.sessions, endpoint)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	s.healthy.Store(false)
	s.client.CloseIdleConnections()
	atomic.AddInt64(&p.closed, 1)
	metrics.RecordPoolSessionClosed(endpoint)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Created:      atomic.LoadInt64(&p.created),
		Reused:       atomic.LoadInt64(&p.reused),
		Closed:       atomic.LoadInt64(&p.closed),
		HealthChecks: atomic.LoadInt64(&p.healthChecks),
	}
}

// Shutdown stops the health task and closes every session. It is safe to
// call more than once.
func (p *Pool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.healthCancel()
		<-p.healthDone

		p.mu.Lock()
		defer p.mu.Unlock()
		for ep, s := range p.sessions {
			s.client.CloseIdleConnections()
			atomic.AddInt64(&p.closed, 1)
			metrics.RecordPoolSessionClosed(ep)
			delete(p.sessions, ep)
		}
	})
}
