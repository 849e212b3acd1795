package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/our-edu/sqs-messaging/internal/auth"
	"github.com/our-edu/sqs-messaging/internal/queue"
	"github.com/our-edu/sqs-messaging/internal/storage"
)

// RouterConfig bundles the dependencies NewRouter wires into handlers.
type RouterConfig struct {
	DB                       *storage.DB
	JWTService               *auth.JWTService
	DLQs                     map[string]*queue.DLQ
	DefaultDLQAlertThreshold int
	Log                      zerolog.Logger
}

// NewRouter builds the operator admin HTTP surface: health/readiness probes
// (unauthenticated) and DLQ inspect/replay/monitor tooling per logical queue
// (bearer-token protected).
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(RecoverMiddleware(cfg.Log))

	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(cfg.DB))

	r.Route("/dlq/{queue}", func(rt chi.Router) {
		rt.Use(auth.OperatorAuth(cfg.JWTService))

		rt.Get("/inspect", withDLQ(cfg.DLQs, DLQInspectHandler))
		rt.Post("/replay", withDLQ(cfg.DLQs, DLQReplayHandler))
		rt.Get("/monitor", withDLQ(cfg.DLQs, func(dlq *queue.DLQ) http.HandlerFunc {
			return DLQMonitorHandler(dlq, cfg.DefaultDLQAlertThreshold)
		}))
	})

	return r
}

// withDLQ resolves the {queue} URL parameter against the configured DLQ
// toolset before delegating to build, so handlers never deal with "unknown
// queue" themselves.
func withDLQ(dlqs map[string]*queue.DLQ, build func(*queue.DLQ) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logicalQueue := chi.URLParam(r, "queue")
		dlq, ok := dlqs[logicalQueue]
		if !ok {
			respondError(w, http.StatusNotFound, "unknown queue")
			return
		}
		build(dlq)(w, r)
	}
}
