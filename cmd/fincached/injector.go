//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/fincache/fincache/internal/config"
)

// NewApp wires together an App from an AppConfig. Run `go generate` (or
// `wire`) in this directory to regenerate wire_gen.go after changing
// this provider set.
func NewApp(cfg *config.AppConfig) (*App, func(), error) {
	panic(wire.Build(
		ProvideStores,
		ProvideRouter,
		ProvideMetricsServer,
		wire.Struct(new(App), "*"),
	))
}
