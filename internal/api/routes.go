package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trogers1052/portfolio-tracker/internal/metrics"
	"go.uber.org/zap"
)

// SetupRoutes configures all API routes. alertStream serves the websocket
// alert feed and may be nil.
func SetupRoutes(handler *Handler, alertStream http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger(handler.logger))
	// mux skips middleware for requests no route matches
	r.NotFoundHandler = requestLogger(handler.logger)(http.NotFoundHandler())
	r.MethodNotAllowedHandler = requestLogger(handler.logger)(http.HandlerFunc(methodNotAllowed))

	// Operational
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if alertStream != nil {
		r.Handle("/ws/alerts", alertStream).Methods("GET")
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	// Portfolio routes
	api.HandleFunc("/users/{userID}/portfolio", handler.GetPortfolio).Methods("GET")
	api.HandleFunc("/users/{userID}/portfolio/risk", handler.GetRiskMetrics).Methods("GET")

	// Position routes
	api.HandleFunc("/users/{userID}/positions", handler.ListPositions).Methods("GET")
	api.HandleFunc("/users/{userID}/positions", handler.AddPosition).Methods("POST")
	api.HandleFunc("/users/{userID}/positions", handler.ReplacePositions).Methods("PUT")
	api.HandleFunc("/users/{userID}/positions/{id}", handler.UpdatePosition).Methods("PUT")
	api.HandleFunc("/users/{userID}/positions/{id}", handler.DeletePosition).Methods("DELETE")

	// Alert routes
	api.HandleFunc("/users/{userID}/alerts", handler.ListAlerts).Methods("GET")
	api.HandleFunc("/users/{userID}/alerts", handler.CreateAlert).Methods("POST")
	api.HandleFunc("/users/{userID}/alerts/{id}", handler.DeleteAlert).Methods("DELETE")
	api.HandleFunc("/ticks", handler.IngestTicks).Methods("POST")

	// Market data
	api.HandleFunc("/quotes/{assetType}/{symbol}", handler.GetQuote).Methods("GET")

	return r
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusMethodNotAllowed)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer so websocket upgrades can hijack it
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func requestLogger(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws/alerts" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPRequestDuration.
				WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).
				Observe(elapsed.Seconds())

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", elapsed),
			}
			switch {
			case rec.status >= 500:
				logger.Error("HTTP request", fields...)
			case rec.status >= 400:
				logger.Info("HTTP request", fields...)
			default:
				logger.Debug("HTTP request", fields...)
			}
		})
	}
}
