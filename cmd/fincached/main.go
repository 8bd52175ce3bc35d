// Command fincached hosts the cache router registry and a Prometheus
// metrics endpoint for processes that embed the fincache package as a
// library and want a shared, long-lived store registry plus
// observability out of the box.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/fincache/fincache/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("fincached exited with error")
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}

	cfg := &config.AppConfig{}
	cfg.Bind(pflag.CommandLine)
	pflag.Parse()

	if err := cfg.Preflight(); err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	app, cleanup, err := NewApp(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app.Serve(ctx)
	log.WithField("metricsAddr", cfg.MetricsAddr).WithField("dbPath", cfg.DefaultDB).Info("fincached ready")

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
