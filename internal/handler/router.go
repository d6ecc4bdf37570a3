package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/infra/observability"
	"github.com/architecte-ia/etsy-analytics-pro/internal/service"
	"github.com/architecte-ia/etsy-analytics-pro/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/csrf"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// HealthCheck probes one dependency for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options are the HTTP-level settings.
type Options struct {
	MaxUploadBytes int64
	WeeklyLimit    int
	ConsentGated   bool
	CookieSecure   bool
	AllowedOrigins []string
}

// Deps wires the services into the router.
type Deps struct {
	Access     *service.AccessManager
	Consent    *service.ConsentService
	Onboarding *service.OnboardingService
	Analysis   *service.AnalysisService
	Sessions   *session.Codec
	CSRFKey    []byte
	Health     []HealthCheck
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Options    Options
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	if d.Options.MaxUploadBytes <= 0 {
		d.Options.MaxUploadBytes = 20 << 20
	}
	logger := d.Logger

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger, d.Metrics))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Health, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- Payment webhook: signed by the processor, no cookie, no CSRF ---
	r.Post("/webhooks/stripe", stripeWebhookHandler(d.Onboarding, logger))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.Options.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", AccessKeyHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Use(SessionMiddleware(d.Sessions))

		r.Get("/stats/usage", usageStatsHandler(d.Metrics))

		r.Group(func(r chi.Router) {
			r.Use(RequireAPICustomer(d.Access, logger))
			r.Get("/me", meHandler(d.Access, d.Consent))
			r.Get("/dashboards", listDashboardsHandler(d.Access))
			r.Post("/dashboards/{dashboardId}/analyze", analyzeAPIHandler(d.Analysis, d.Options, logger))
		})
	})

	// --- HTML pages ---
	r.Group(func(r chi.Router) {
		r.Use(csrf.Protect(d.CSRFKey,
			csrf.Secure(d.Options.CookieSecure),
			csrf.Path("/"),
			csrf.SameSite(csrf.SameSiteLaxMode),
			csrf.ErrorHandler(csrfFailureHandler(logger)),
		))
		r.Use(SessionMiddleware(d.Sessions))

		r.Get("/", loginPageHandler(logger))
		r.Post("/login", loginHandler(d.Access, d.Sessions, logger))
		r.Get("/logout", logoutHandler(d.Access, d.Sessions))
		r.Get("/signup", signupPageHandler(d.Options, logger))
		r.Post("/signup", signupHandler(d.Onboarding, d.Sessions, d.Options, logger))
		r.Get("/templates/{name}.csv", templateCSVHandler())

		r.Group(func(r chi.Router) {
			r.Use(RequireCustomer(d.Access, d.Sessions, logger))
			r.Get("/dashboard", hubHandler(d.Access, d.Consent, d.Sessions, logger))
			r.Get("/dashboards/{dashboardId}", dashboardPageHandler(d.Access, logger))
			r.Post("/dashboards/{dashboardId}", dashboardAnalyzeHandler(d.Analysis, d.Access, d.Options, logger))
			r.Post("/consent", consentPromptHandler(d.Consent, d.Sessions, logger))
			r.Get("/settings/consent", consentSettingsPageHandler(d.Consent, d.Options, logger))
			r.Post("/settings/consent", consentSettingsHandler(d.Consent, d.Access, d.Sessions, d.Options, logger))
		})
	})

	return r
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func csrfFailureHandler(logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Warn("csrf: request refused",
			zap.String("path", r.URL.Path),
			zap.Error(csrf.FailureReason(r)),
		)
		http.Error(w, "your form expired, please reload the page and try again", http.StatusForbidden)
	})
}

const healthTimeout = 3 * time.Second
