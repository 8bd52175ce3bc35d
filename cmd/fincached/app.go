package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/fincache/fincache/internal/config"
	"github.com/fincache/fincache/internal/router"
	"github.com/fincache/fincache/internal/store"
)

// App bundles the long-lived services a fincached process needs: the
// store registry every dataset's Pool is acquired from, the router
// registry providers register against, and a handle on the metrics
// HTTP server.
type App struct {
	Config  *config.AppConfig
	Stores  *store.Registry
	Router  *router.Registry
	Metrics *http.Server
}

// ProvideStores constructs the process-wide store registry.
func ProvideStores() (*store.Registry, func(), error) {
	reg := store.NewRegistry()
	return reg, func() {
		if err := reg.CloseAll(); err != nil {
			log.WithError(err).Warn("error closing store registry")
		}
	}, nil
}

// ProvideRouter constructs the cache router registry over stores.
func ProvideRouter(stores *store.Registry) *router.Registry {
	return router.NewRegistry(stores)
}

// ProvideMetricsServer builds (but does not start) the Prometheus
// /metrics HTTP server described by cfg.
func ProvideMetricsServer(cfg *config.AppConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
}

// Serve starts the metrics HTTP server in the background. It returns
// immediately; errors after startup are logged, not returned, matching
// the teacher's pattern of treating the diagnostics/metrics endpoint
// as best-effort.
func (a *App) Serve(ctx context.Context) {
	go func() {
		if err := a.Metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server exited")
		}
	}()
	go func() {
		<-ctx.Done()
		_ = a.Metrics.Close()
	}()
}
