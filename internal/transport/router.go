package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/regelwerk/internal/config"
	"github.com/pitabwire/regelwerk/internal/idempotency"
	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/internal/service"
)

// Banner is the body of GET /api/.
const Banner = "Regelwerk template service is running"

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	Services    *service.Services
	Idempotency idempotency.Store
	Readiness   observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints skip the
// request context, timeout and logging layers.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	cfg := deps.Config

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	r.Use(deps.Metrics.MetricsMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "no route for "+r.Method+" "+r.URL.Path)
	})

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if m := cfg.Observability.Metrics; m.Enabled {
		path := m.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler(gatherer))
	}

	var idem idempotency.Store
	if cfg.Idempotency.Enabled {
		idem = deps.Idempotency
	}
	ttl := cfg.Idempotency.Store.DefaultTTL
	svc := deps.Services

	r.Route("/api", func(r chi.Router) {
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(MaxBodySize(cfg.Server.MaxBodyBytes))
		r.Use(RequestLogging(logger))

		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]string{"message": Banner})
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", handleListTemplates(svc.Templates))
			r.With(Idempotent(idem, "templates.create", ttl, deps.Metrics)).
				Post("/", handleCreateTemplate(svc.Templates))
			r.Post("/render", handleRender(svc.Templates))
			r.Post("/simulate", handleSimulate(svc.Templates))
			r.Get("/export", handleExportTemplates(svc.Templates))
			r.Get("/{id}", handleGetTemplate(svc.Templates))
			r.Put("/{id}", handleUpdateTemplate(svc.Templates))
			r.Delete("/{id}", handleDeleteTemplate(svc.Templates))
			r.Get("/{id}/export", handleExportTemplate(svc.Templates))
			r.Get("/{id}/schema", handleTemplateSchema(svc.Templates))
		})

		r.Route("/fields", func(r chi.Router) {
			r.Get("/", handleListFields(svc.Fields))
			r.With(Idempotent(idem, "fields.create", ttl, deps.Metrics)).
				Post("/", handleCreateField(svc.Fields))
			r.Post("/validate-field", handleValidateValue(svc.Fields))
			r.Get("/validation-schema/{fieldType}", handleValidationSchema(svc.Fields))
			r.Get("/{id}", handleGetField(svc.Fields))
			r.Put("/{id}", handleUpdateField(svc.Fields))
			r.Delete("/{id}", handleDeleteField(svc.Fields))
		})

		r.Route("/changelog", func(r chi.Router) {
			r.Get("/", handleListChanges(svc.ChangeLog))
			r.Get("/{entityId}", handleEntityChanges(svc.ChangeLog))
		})
	})

	return r
}
