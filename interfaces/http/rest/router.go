// Package rest assembles the HTTP surface: REST endpoints, the realtime
// websocket endpoint, and operational routes.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mindmeld/interfaces/http/rest/handlers"
	"mindmeld/interfaces/http/rest/middleware"
	"mindmeld/pkg/auth"
	apperrors "mindmeld/pkg/errors"
)

// Dependencies carries everything the router mounts
type Dependencies struct {
	Logger    *zap.Logger
	Validator *auth.Validator
	Documents *handlers.DocumentHandler
	Realtime  http.Handler
	CORS      []string
	Debug     bool
}

// NewRouter builds the chi router
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	eh := apperrors.NewErrorHandler(deps.Logger, deps.Debug)

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(eh.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORS,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticator(deps.Validator, deps.Logger))

		r.Handle("/realtime", deps.Realtime)

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/documents", func(r chi.Router) {
				r.Get("/", deps.Documents.List)
				r.Get("/{documentID}", deps.Documents.Get)
				r.Put("/{documentID}", deps.Documents.Save)
			})
		})
	})

	return r
}
