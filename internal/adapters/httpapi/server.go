// Package httpapi exposes the ledger, registration and resource services
// over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"donationcore/docs/schema/openapi"
	"donationcore/internal/institution"
	"donationcore/internal/ledger"
	"donationcore/internal/resource"
	"donationcore/pkg/domain"
)

// Deps are the services served by the API.
type Deps struct {
	Identities   domain.IdentityProvider
	Institutions *institution.Service
	Ledger       *ledger.Engine
	Resources    *resource.Service
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *logrus.Logger
	// CORSOrigins lists allowed origins; empty allows all.
	CORSOrigins   []string
	MaxUploadSize int64
}

// Handler routes API requests.
type Handler struct {
	deps   Deps
	router *mux.Router
}

// NewHandler builds the router with logging, recovery and CORS applied.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.MaxUploadSize <= 0 {
		deps.MaxUploadSize = resource.DefaultMaxFileSize
	}
	h := &Handler{deps: deps, router: mux.NewRouter()}
	h.routes()

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
	}).Handler(h.router)
}

func (h *Handler) routes() {
	r := h.router
	r.Use(withLogger(h.deps.Logger), recoverer)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Rota não encontrada.")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Método não permitido.")
	})

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(openapi.APISpec)
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(authenticate(h.deps.Identities))
	authed.HandleFunc("/institution", h.profile).Methods(http.MethodGet)

	authed.HandleFunc("/donations", h.createIntake).Methods(http.MethodPost)
	authed.HandleFunc("/donations", h.listLevels).Methods(http.MethodGet)
	authed.HandleFunc("/donations/{id}", h.getLevel).Methods(http.MethodGet)
	authed.HandleFunc("/donations/{id}/withdrawals", h.listWithdrawals).Methods(http.MethodGet)
	authed.HandleFunc("/withdrawals", h.createWithdrawal).Methods(http.MethodPost)

	authed.HandleFunc("/{kind}", h.createResource).Methods(http.MethodPost)
	authed.HandleFunc("/{kind}", h.listResources).Methods(http.MethodGet)
	authed.HandleFunc("/{kind}/{id}", h.getResource).Methods(http.MethodGet)
	authed.HandleFunc("/{kind}/{id}", h.updateResource).Methods(http.MethodPatch)
	authed.HandleFunc("/{kind}/{id}", h.deleteResource).Methods(http.MethodDelete)
	authed.HandleFunc("/{kind}/{id}/file", h.resourceFile).Methods(http.MethodGet)
}

// Serve runs srv until ctx is cancelled, then shuts it down within timeout.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
