package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ilm/internal/analytics/collector"
	"ilm/internal/analytics/forwarder"
	analyticshandler "ilm/internal/analytics/handler"
	analyticsmetrics "ilm/internal/analytics/metrics"
	analyticsservice "ilm/internal/analytics/service"
	analyticsstore "ilm/internal/analytics/store"
	"ilm/internal/audit"
	"ilm/internal/behavior"
	"ilm/internal/booking"
	consenthandler "ilm/internal/consent/handler"
	consentmetrics "ilm/internal/consent/metrics"
	consentservice "ilm/internal/consent/service"
	consentstore "ilm/internal/consent/store"
	"ilm/internal/forms"
	"ilm/internal/notify"
	"ilm/internal/platform/config"
	"ilm/internal/platform/health"
	"ilm/internal/platform/kafka"
	"ilm/internal/platform/kafka/consumer"
	"ilm/internal/platform/kafka/producer"
	"ilm/internal/platform/logger"
	"ilm/internal/platform/metrics"
	"ilm/internal/platform/tracer"
	"ilm/internal/privacycenter"
	"ilm/internal/spam"
	httptransport "ilm/internal/transport/http"
	"ilm/pkg/platform/circuit"
	"ilm/pkg/platform/clock"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	log.Info("initializing ilm",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"storage", cfg.Storage.Backend,
		"kafka", cfg.Kafka.Enabled(),
		"booking", cfg.Booking.Enabled(),
	)

	store, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(log)

	platformMetrics := metrics.New()
	platformMetrics.SetStorageBackend(cfg.Storage.Backend)
	analyticsMetrics := analyticsmetrics.New()
	spamMetrics := spam.NewMetrics()
	toasts := notify.NewQueue()

	g, gctx := errgroup.WithContext(ctx)

	// Consent
	consent := consentservice.New(consentstore.New(store.kv), log,
		consentservice.WithMetrics(consentmetrics.New()),
		consentservice.WithNotifier(toasts),
		consentservice.WithSessionTTL(cfg.Spam.IdleTTL),
	)
	g.Go(func() error { return consent.RunSessionSweep(gctx, cfg.Spam.SweepInterval) })

	// Consent proof trail
	trail := audit.NewPublisher(audit.NewInMemoryStore(),
		audit.WithAsyncBuffer(256),
		audit.WithPublisherLogger(log),
		audit.WithMetrics(audit.NewMetrics()),
	)
	defer trail.Close()
	consent.Subscribe(trail)

	// Analytics, with the optional forwarding hook
	fwd, prod, err := newForwarder(cfg, log, analyticsMetrics)
	if err != nil {
		return err
	}
	if prod != nil {
		defer prod.Close() //nolint:errcheck // flushed best-effort on shutdown
	}
	analyticsOpts := []analyticsservice.Option{analyticsservice.WithMetrics(analyticsMetrics)}
	if fwd.Enabled() {
		analyticsOpts = append(analyticsOpts, analyticsservice.WithForwarder(fwd))
		g.Go(func() error { return fwd.Run(gctx) })
	}
	analytics := analyticsservice.New(analyticsstore.New(store.kv), store.kv, consent, log, analyticsOpts...)
	consent.Subscribe(analytics)

	events := collector.New(log, analyticsMetrics)
	if cfg.Kafka.Enabled() {
		c, err := consumer.New(cfg.Kafka, events, log)
		if err != nil {
			return err
		}
		g.Go(func() error { return c.Run(gctx) })
	}

	// Spam defence
	var rules spam.RulesSource
	if cfg.Spam.RulesFile != "" {
		loader, err := spam.NewLoader(cfg.Spam.RulesFile, log)
		if err != nil {
			return err
		}
		loader.OnChange(spamMetrics.ObserveReload)
		rules = loader
		g.Go(func() error { return loader.Watch(gctx) })
	}
	trackers := behavior.NewRegistry(log,
		behavior.WithIdleTTL(cfg.Spam.IdleTTL),
		behavior.WithEvictHook(func(string, string) { platformMetrics.IncrementTrackersEvicted() }),
	)
	platformMetrics.TrackActiveTrackers(trackers.Len)
	g.Go(func() error { return trackers.Run(gctx, cfg.Spam.SweepInterval) })

	gate := spam.NewGate(rules, trackers, store.limiter, log,
		spam.WithNotifier(toasts),
		spam.WithMetrics(spamMetrics),
	)

	var formOpts []forms.Option
	var upstreamTimeout time.Duration
	if cfg.Booking.Enabled() {
		upstreamTimeout = cfg.Booking.Timeout
		config.CheckAnonKey(log, cfg.Booking.AnonKey, time.Now())
		booker := booking.NewClient(cfg.Booking.Endpoint, cfg.Booking.AnonKey, log,
			booking.WithTimeout(cfg.Booking.Timeout),
			booking.WithTracer(tracer.NewOTel()),
		)
		formOpts = append(formOpts, forms.WithBooking(booker, cfg.Booking.FormIDs...))
	}

	// Privacy centre
	privacy := privacycenter.New(store.kv, analytics, consent, log,
		privacycenter.WithNotifier(toasts),
		privacycenter.WithAudit(trail),
	)

	// Health
	healthHandler := health.New(cfg.Environment)
	for _, c := range store.checks {
		healthHandler.RegisterChecker(c)
	}
	if cfg.Kafka.Enabled() {
		healthHandler.RegisterChecker(kafka.NewHealthChecker(cfg.Kafka))
	}
	if prod != nil {
		healthHandler.RegisterCheck("kafka-producer", func(ctx context.Context) error {
			if !prod.Healthy(ctx) {
				return errors.New("kafka producer cannot reach brokers")
			}
			return nil
		})
	}
	if store.redis != nil {
		g.Go(func() error { return store.redis.RunPoolStats(gctx, 15*time.Second) })
	}
	if store.local != nil {
		g.Go(func() error { return sweepLimits(gctx, store.local, cfg.Spam.SweepInterval, log) })
	}

	router := httptransport.NewRouter(httptransport.Config{
		Timeout:        cfg.RequestTimeout,
		SecureCookies:  cfg.SecureCookies,
		TrustedProxies: cfg.TrustedProxies,
		Clock:          clock.System{},
		Metrics:        platformMetrics,

		UpstreamTimeout: upstreamTimeout,
	}, log,
		[]httptransport.Registrar{healthHandler, events},
		[]httptransport.Registrar{
			consenthandler.New(consent, log),
			analyticshandler.New(analytics, log),
			privacycenter.NewHandler(privacy, log),
			forms.New(trackers, gate, log, formOpts...),
			notify.NewHandler(toasts, log),
		},
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newForwarder builds the analytics hook from whichever sinks are configured.
// The producer is returned so it can be flushed on shutdown.
func newForwarder(cfg config.Server, log *slog.Logger, m *analyticsmetrics.Metrics) (*forwarder.Forwarder, *producer.Producer, error) {
	opts := []forwarder.Option{
		forwarder.WithWorkers(cfg.Forwarder.Workers),
		forwarder.WithQueueSize(cfg.Forwarder.QueueSize),
		forwarder.WithTimeout(cfg.Forwarder.Timeout),
		forwarder.WithMetrics(m),
	}
	if cfg.Forwarder.URL != "" {
		sink := forwarder.NewHTTPSink(cfg.Forwarder.URL, &http.Client{Timeout: cfg.Forwarder.Timeout})
		opts = append(opts, forwarder.WithSink(sink, circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)))
	}

	var prod *producer.Producer
	if cfg.Kafka.Enabled() {
		p, err := producer.New(cfg.Kafka, log)
		if err != nil {
			return nil, nil, err
		}
		prod = p
		opts = append(opts, forwarder.WithSink(forwarder.NewKafkaSink(p), circuit.WithFailureThreshold(5)))
	}
	return forwarder.New(log, opts...), prod, nil
}
