// Package api exposes the query engine, geocoder, router, and stores over a
// chi-based HTTP API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/drm-labs/geoquery/internal/query"
	"github.com/drm-labs/geoquery/internal/store"
	"github.com/drm-labs/geoquery/pkg/geocode"
	"github.com/drm-labs/geoquery/pkg/osrm"
)

// Options configures the API server.
type Options struct {
	Port           int
	AllowedOrigins []string
	// H3Resolution is the default resolution for the /v1/h3 endpoint.
	H3Resolution int
	// DefaultRadiusKM is used by /v1/places/nearby when radius_km is absent.
	DefaultRadiusKM float64
}

// Server wires the application services into an HTTP handler.
type Server struct {
	st       store.Store
	engine   *query.Engine
	geocoder geocode.Client
	router   *osrm.Client
	opts     Options
}

// New creates the API server. The OSRM client may be nil, in which case the
// route endpoint reports 503.
func New(st store.Store, engine *query.Engine, gc geocode.Client, router *osrm.Client, opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = 8000
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.DefaultRadiusKM <= 0 {
		opts.DefaultRadiusKM = query.DefaultRadiusKM
	}
	return &Server{
		st:       st,
		engine:   engine,
		geocoder: gc,
		router:   router,
		opts:     opts,
	}
}

// Handler builds the chi router with middleware and all routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/parse", s.handleParse)
		r.Get("/query", s.handleQuery)
		r.Get("/geocode", s.handleGeocode)
		r.Get("/reverse", s.handleReverse)
		r.Get("/adjust", s.handleAdjust)
		r.Get("/h3", s.handleH3)
		r.Get("/route", s.handleRoute)
		r.Post("/places", s.handleUpsertPlaces)
		r.Get("/places/nearby", s.handlePlacesNearby)
		r.Get("/zones/at", s.handleZonesAt)
		r.Get("/history", s.handleHistory)
	})

	return r
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting api server", zap.Int("port", s.opts.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "api: server listen")
	}
	return nil
}

// requestLogger logs each request with method, path, status and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
