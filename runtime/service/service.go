// Package service assembles the orchestration runtime from configuration:
// connection pool, A2A client, agent registry, quality framework, session
// manager, event bus with metrics and trace listeners, and the orchestrator
// itself hosted behind an A2A server.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/budprat/agentic-5-sub002/pkg/config"
	apperrors "github.com/budprat/agentic-5-sub002/pkg/errors"
	"github.com/budprat/agentic-5-sub002/runtime/a2a"
	"github.com/budprat/agentic-5-sub002/runtime/events"
	"github.com/budprat/agentic-5-sub002/runtime/logger"
	promexp "github.com/budprat/agentic-5-sub002/runtime/metrics/prometheus"
	"github.com/budprat/agentic-5-sub002/runtime/orchestrator"
	"github.com/budprat/agentic-5-sub002/runtime/quality"
	"github.com/budprat/agentic-5-sub002/runtime/registry"
	"github.com/budprat/agentic-5-sub002/runtime/session"
	"github.com/budprat/agentic-5-sub002/runtime/telemetry"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Service is the fully wired runtime. Build it with New, start it with
// Run or Serve, and tear it down with Shutdown.
type Service struct {
	cfg *config.RuntimeConfig

	pool     *a2a.Pool
	client   *a2a.Client
	registry *registry.Registry
	quality  *quality.Framework
	sessions *session.Manager
	bus      *events.EventBus
	orch     *orchestrator.Orchestrator
	server   *a2a.Server
	card     *a2a.AgentCard

	exporter *promexp.Exporter
	tracer   *sdktrace.TracerProvider
	redis    *redis.Client
}

// New wires a Service from a validated configuration. The registry must
// contain exactly one tier-1 card; it becomes the hosted orchestrator's
// identity and listen port.
func New(ctx context.Context, cfg *config.RuntimeConfig) (*Service, error) {
	configureLogging(cfg.Logging)

	if cfg.LLMEndpoint == "" {
		return nil, apperrors.New("service", "configure",
			fmt.Errorf("llmEndpoint is required for the planner agent"))
	}

	reg, err := registry.Load(cfg.AgentCardDir)
	if err != nil {
		return nil, apperrors.New("service", "load agent cards", err)
	}
	orchCards := reg.ByTier(registry.TierOrchestrator)
	if len(orchCards) == 0 {
		return nil, apperrors.New("service", "load agent cards",
			fmt.Errorf("no tier-%d orchestrator card in %s", registry.TierOrchestrator, cfg.AgentCardDir))
	}
	card := orchCards[0]

	fw, err := loadQuality(cfg.QualityProfilePath)
	if err != nil {
		return nil, err
	}

	svc := &Service{cfg: cfg, registry: reg, quality: fw, card: card}

	svc.pool = a2a.NewPool(
		a2a.WithMaxConnsPerHost(cfg.Pool.MaxConnsPerHost),
		a2a.WithMaxIdlePerHost(cfg.Pool.MaxIdlePerHost),
		a2a.WithIdleTimeout(cfg.Pool.IdleTimeout),
		a2a.WithHealthCheckInterval(cfg.Pool.HealthCheckInterval),
	)
	svc.client = a2a.NewClient(svc.pool,
		a2a.WithUnaryTimeout(cfg.Transport.UnaryTimeout),
		a2a.WithStreamingTimeout(cfg.Transport.StreamingTimeout),
		a2a.WithMaxRetries(cfg.Transport.MaxRetries),
		a2a.WithBackoff(cfg.Transport.RetryBackoffBase, cfg.Transport.RetryBackoffCap),
	)

	sessionOpts := []session.ManagerOption{
		session.WithExpiration(cfg.Session.Expiration),
		session.WithJanitorInterval(cfg.Session.JanitorInterval),
	}
	if cfg.Session.RedisAddr != "" {
		svc.redis = redis.NewClient(&redis.Options{Addr: cfg.Session.RedisAddr})
		var storeOpts []session.RedisOption
		if cfg.Session.JournalTTL > 0 {
			storeOpts = append(storeOpts, session.WithTTL(cfg.Session.JournalTTL))
		}
		sessionOpts = append(sessionOpts, session.WithJournal(session.NewRedisStore(svc.redis, storeOpts...)))
	}
	svc.sessions = session.NewManager(sessionOpts...)

	svc.bus = events.NewEventBus()
	svc.bus.SubscribeAll(promexp.NewMetricsListener().Listener())
	if cfg.MetricsAddr != "" {
		svc.exporter = promexp.NewExporter(cfg.MetricsAddr)
	}
	if cfg.Telemetry.Enabled {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
		if err != nil {
			svc.close(ctx)
			return nil, apperrors.New("service", "init telemetry", err)
		}
		svc.tracer = tp
		telemetry.SetupPropagation()
		listener := telemetry.NewOTelEventListener(telemetry.Tracer(tp))
		svc.bus.SubscribeAll(listener.OnEvent)
	}

	svc.orch, err = orchestrator.New(orchestrator.Config{
		Registry:    reg,
		Quality:     fw,
		Sessions:    svc.sessions,
		Planner:     orchestrator.A2APlanner(svc.client, cfg.LLMEndpoint),
		Dispatch:    orchestrator.A2ADispatch(svc.client, reg),
		Bus:         svc.bus,
		NodeTimeout: cfg.Orchestrator.NodeTimeout,
		MinParallel: cfg.Orchestrator.MinParallel,
		MaxParallel: cfg.Orchestrator.MaxParallel,
	})
	if err != nil {
		svc.close(ctx)
		return nil, apperrors.New("service", "build orchestrator", err)
	}

	svc.server = a2a.NewServer(
		NewOrchestratorStreamer(svc.orch),
		a2a.WithCard(card),
		a2a.WithPort(card.Port),
	)
	return svc, nil
}

// Orchestrator returns the wired orchestrator for in-process callers.
func (s *Service) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Card returns the hosted agent's card.
func (s *Service) Card() *a2a.AgentCard { return s.card }

// Run starts the metrics exporter and serves A2A traffic on the card's
// port. It blocks until the server stops.
func (s *Service) Run() error {
	s.startExporter()
	logger.Info("orchestrator service listening",
		"agent_id", s.card.AgentID, "port", s.card.Port)
	return s.server.ListenAndServe()
}

// Serve is Run over a caller-supplied listener.
func (s *Service) Serve(ln net.Listener) error {
	s.startExporter()
	return s.server.Serve(ln)
}

// startExporter serves the scrape endpoint in the background. Exporter.Start
// blocks until Shutdown, so a serve error here is logged rather than fatal.
func (s *Service) startExporter() {
	if s.exporter == nil {
		return
	}
	go func() {
		if err := s.exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics exporter stopped", "error", err)
		}
	}()
}

// Shutdown drains the server and releases every owned resource. Errors are
// collected; the first one is returned.
func (s *Service) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// close tears down everything below the server layer.
func (s *Service) close(ctx context.Context) error {
	var firstErr error
	if s.orch != nil {
		s.orch.Shutdown()
	}
	if s.sessions != nil {
		s.sessions.Shutdown()
	}
	if s.exporter != nil {
		if err := s.exporter.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.tracer != nil {
		if err := s.tracer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.pool != nil {
		s.pool.Shutdown()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// configureLogging applies the logging section.
func configureLogging(lc config.LoggingConfig) {
	level := slog.LevelInfo
	switch lc.Level {
	case config.LogLevelDebug:
		level = slog.LevelDebug
	case config.LogLevelWarn:
		level = slog.LevelWarn
	case config.LogLevelError:
		level = slog.LevelError
	}
	if lc.Format == config.LogFormatJSON {
		logger.SetJSON(level)
		return
	}
	logger.SetLevel(level)
}

// loadQuality loads the profile file, or falls back to a permissive
// general-domain profile when no path is configured.
func loadQuality(path string) (*quality.Framework, error) {
	if path != "" {
		fw, err := quality.LoadProfiles(path)
		if err != nil {
			return nil, apperrors.New("service", "load quality profiles", err)
		}
		return fw, nil
	}
	fw, err := quality.NewFramework(map[string]quality.Profile{
		quality.DomainGeneric: {
			Thresholds: map[string]quality.Threshold{
				"completeness": {Min: 0.1, Weight: 1},
			},
		},
	}, nil)
	if err != nil {
		return nil, apperrors.New("service", "build quality framework", err)
	}
	return fw, nil
}
