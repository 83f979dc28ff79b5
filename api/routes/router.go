package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/entitlements-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/entitlements-backend/api/controllers/webhooks"
	"github.com/angelmondragon/entitlements-backend/api/middleware"
	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// RedisStore is the Redis surface the HTTP layer needs for throttling and idempotency.
type RedisStore interface {
	middleware.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type squareVerifier interface {
	VerifySignature(body []byte, header string) bool
}

type webhookGuard interface {
	Seen(ctx context.Context, consumer, eventID string) (bool, error)
	Confirm(ctx context.Context, consumer, eventID string) error
}

// Dependencies groups everything the router wires into handlers.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.Logger
	Redis    RedisStore
	Tokens   middleware.TokenVerifier
	Gatherer prometheus.Gatherer
	Ready    map[string]controllers.Pinger

	Access      controllers.AccessResolver
	Trials      controllers.TrialService
	Usage       controllers.UsageRecorder
	Churn       controllers.ChurnScorer
	Experiments controllers.ExperimentService
	Billing     controllers.BillingReader
	Retention   controllers.RetentionReader

	SquareWebhook  webhookcontrollers.SquareWebhookService
	SquareVerifier squareVerifier
	WebhookGuard   webhookGuard
}

func NewRouter(deps Dependencies) http.Handler {
	cfg, logg := deps.Config, deps.Logger

	r := chi.NewRouter()
	r.Use(
		chimw.RealIP,
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)
	if len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	}

	accessPolicy := middleware.NewRateLimitPolicy("access", cfg.RateLimit.AccessWindow, cfg.RateLimit.AccessLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Ready))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/api/public/ping", controllers.PublicPing())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/square", webhookcontrollers.SquareWebhook(deps.SquareWebhook, deps.SquareVerifier, deps.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Tokens, logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.With(middleware.RateLimit(accessPolicy, deps.Redis, logg)).
			Get("/access/{platform}", controllers.ResolveAccess(deps.Access, logg))

		r.Route("/trials", func(r chi.Router) {
			r.Post("/", controllers.ActivateTrial(deps.Trials, logg))
			r.Get("/{platform}", controllers.GetTrial(deps.Trials, logg))
		})

		r.Post("/usage", controllers.RecordUsage(deps.Usage, logg))
		r.Get("/churn/{platform}", controllers.ChurnRisk(deps.Churn, logg))
		r.Get("/subscriptions/{platform}", controllers.GetSubscription(deps.Billing, logg))
		r.Get("/billing/{platform}/events", controllers.BillingHistory(deps.Billing, logg))
		r.Get("/retention/{platform}/decisions", controllers.RetentionDecisions(deps.Retention, logg))

		r.Route("/experiments", func(r chi.Router) {
			r.Post("/evaluate", controllers.EvaluateExperiment(logg))
			r.Get("/sample-size", controllers.SampleSize(logg))
			r.Post("/{testId}/assignment", controllers.ExperimentAssignment(deps.Experiments, logg))
			r.Post("/{testId}/conversion", controllers.ExperimentConversion(deps.Experiments, logg))
			r.Get("/{testId}/results", controllers.ExperimentResults(deps.Experiments, logg))
		})
	})

	return r
}
