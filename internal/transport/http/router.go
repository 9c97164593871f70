package httptransport

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"ilm/internal/platform/metrics"
	"ilm/internal/platform/middleware"
	"ilm/pkg/platform/clock"
	"ilm/pkg/validation"
)

// Registrar mounts a handler's routes.
type Registrar interface {
	Register(r chi.Router)
}

// upstreamGrace is the time left after the slowest outbound call for the
// handler to classify the failure and write its response.
const upstreamGrace = 2 * time.Second

// Config controls the middleware stack.
type Config struct {
	Timeout        time.Duration
	MaxBodyBytes   int64
	SecureCookies  bool
	TrustedProxies []netip.Prefix
	Clock          clock.Clock
	Metrics        *metrics.Metrics

	// UpstreamTimeout is the longest outbound call an app handler waits on.
	// Timeout is raised to exceed it.
	UpstreamTimeout time.Duration
}

// NewRouter wires all public endpoints with middleware.
//
// Operational routes (health, metrics, the forwarding collector) skip the
// visitor cookie. Everything in app runs with a visitor id and a request time
// pinned by the clock middleware.
func NewRouter(cfg Config, logger *slog.Logger, ops []Registrar, app []Registrar) http.Handler {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = validation.MaxBodySize
	}
	if cfg.Timeout > 0 && cfg.UpstreamTimeout > 0 && cfg.Timeout < cfg.UpstreamTimeout+upstreamGrace {
		logger.Warn("request timeout raised above upstream timeout",
			"timeout", cfg.Timeout,
			"upstream_timeout", cfg.UpstreamTimeout,
		)
		cfg.Timeout = cfg.UpstreamTimeout + upstreamGrace
	}

	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(middleware.ClientMetadata(cfg.TrustedProxies))
	r.Use(middleware.BodyLimit(cfg.MaxBodyBytes))

	r.Handle("/metrics", metrics.Handler())
	for _, h := range ops {
		h.Register(r)
	}

	r.Group(func(r chi.Router) {
		if cfg.Timeout > 0 {
			r.Use(middleware.Timeout(cfg.Timeout))
		}
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.Visitor(cfg.SecureCookies))
		r.Use(clock.Middleware(cfg.Clock))
		for _, h := range app {
			h.Register(r)
		}
	})

	return r
}
