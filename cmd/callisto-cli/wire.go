//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"callisto/internal/config"
)

// initializeApp builds the component graph from the configuration file at
// cfgPath. An empty path uses built-in defaults.
func initializeApp(cfgPath string) (*app, error) {
	wire.Build(
		config.Load,
		provideLogger,
		provideLimiter,
		provideFetcher,
		provideCache,
		provideConverter,
		providePreparer,
		provideRunner,
		provideParser,
		provideOrchestrator,
		provideRegistry,
		wire.Struct(new(app), "*"),
	)
	return nil, nil
}
