/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Request count and latency per route pattern
  5. CORS:       Cross-origin requests for the point-of-sale frontend

ROUTE GROUPS:
  /api/intake/*      Supplier intake
  /api/sales/*       Sales orders and holds
  /api/holds         Place a hold
  /api/returns       Returns
  /api/units/*       Unit lookup and lifecycle
  /api/variants      Catalog
  /api/customers/*   Customers
  /api/users         Operators
  /api/search/*      Keyset search
  /api/scenarios/*   Demo scenarios
  /api/admin/*       Sweeps and reconciliation
  /metrics           Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. The X-Actor-ID header is trusted as given.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds the optional parts of the router.
type RouterConfig struct {
	AllowedOrigins []string
	// Registry receives the HTTP collectors and backs /metrics. Nil disables both.
	Registry *prometheus.Registry
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.Registry != nil {
		r.Use(newHTTPMetrics(cfg.Registry).middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActor, HeaderIdempotencyKey},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Intake routes
		r.Route("/intake", func(r chi.Router) {
			r.Post("/", h.CommitIntake)
			r.Post("/validate", h.ValidateIntake)
		})

		// Sale routes
		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.CreateSale)
			r.Get("/{id}", h.GetSale)
			r.Post("/{id}/commit", h.CommitSale)
			r.Post("/{id}/release", h.ReleaseSale)
		})
		r.Post("/holds", h.PlaceHold)

		// Return and unit routes
		r.Post("/returns", h.ProcessReturn)
		r.Route("/units", func(r chi.Router) {
			r.Get("/{imei}", h.GetUnit)
			r.Post("/{imei}/reimport", h.ReimportUnit)
			r.Post("/{imei}/defective", h.MarkDefective)
		})

		// Catalog and party routes
		r.Route("/variants", func(r chi.Router) {
			r.Get("/", h.ListVariants)
			r.Post("/", h.PutVariant)
		})
		r.Route("/customers", func(r chi.Router) {
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
		})
		r.Post("/users", h.CreateUser)

		// Search routes
		r.Get("/search/{entity}", h.Search)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.Sweep)
			r.Post("/reconcile", h.Reconcile)
		})
	})

	if cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{Registry: cfg.Registry}))
	}

	return r
}

// =============================================================================
// HTTP METRICS
// =============================================================================

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unitledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "unitledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// The pattern is known only after routing; unmatched paths share one label.
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
