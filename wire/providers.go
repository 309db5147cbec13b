package wire

import (
	"github.com/google/wire"
	"github.com/rs/zerolog"

	"github.com/vdjjd/faninteract/config"
	"github.com/vdjjd/faninteract/db/postgres"
	"github.com/vdjjd/faninteract/db/redis"
	"github.com/vdjjd/faninteract/logging"
	"github.com/vdjjd/faninteract/pkg/providers"
	"github.com/vdjjd/faninteract/pkg/spin"
	"github.com/vdjjd/faninteract/provider"
	"github.com/vdjjd/faninteract/server"
)

// ProvideLogger provides a zerolog.Logger
func ProvideLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.Logging)
}

// ProvideRedisClient provides a Redis client
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	return redis.New(cfg.Redis)
}

// ProvideStore provides the Postgres-backed wheel and entry store
func ProvideStore(cfg *config.Config, logger zerolog.Logger) (*postgres.Store, error) {
	return postgres.New(cfg.Postgres, logger)
}

// ProvideSMSProvider provides the SMS transport, nil when disabled
func ProvideSMSProvider(cfg *config.Config, logger zerolog.Logger) providers.SMSProvider {
	if !cfg.SMS.Enabled {
		return nil
	}
	return provider.NewSMSProvider(cfg.SMS, logger)
}

// ProvideSnapshotProvider provides the Redis-backed last-event cache
func ProvideSnapshotProvider(client *redis.Client, logger zerolog.Logger) providers.SnapshotProvider {
	return provider.NewSnapshotProvider(client, logger)
}

// ProvideCoordinator provides the spin coordination engine
func ProvideCoordinator(
	store *postgres.Store,
	sms providers.SMSProvider,
	snapshots providers.SnapshotProvider,
	publisher spin.Publisher,
	logger zerolog.Logger,
) *spin.Coordinator {
	return spin.NewCoordinator(spin.ServiceConfig{
		Wheels:    store,
		Entries:   store,
		SMS:       sms,
		Snapshots: snapshots,
		Publisher: publisher,
		Logger:    logger,
	})
}

// ProvideServerOptions provides server options
func ProvideServerOptions(cfg *config.Config, logger zerolog.Logger, coordinator *spin.Coordinator) server.Options {
	return server.Options{
		Config:      cfg,
		Logger:      logger,
		Coordinator: coordinator,
	}
}

// ProvideApp provides the main application
func ProvideApp(opts server.Options) *server.App {
	return server.New(opts)
}

// ConfigSet is the wire provider set for configuration
var ConfigSet = wire.NewSet(
	config.Load,
)

// LoggingSet is the wire provider set for logging
var LoggingSet = wire.NewSet(
	ProvideLogger,
)

// StorageSet is the wire provider set for persistence
var StorageSet = wire.NewSet(
	ProvideStore,
	ProvideRedisClient,
)

// ProviderSet is the wire provider set for external side-effect providers
var ProviderSet = wire.NewSet(
	ProvideSMSProvider,
	ProvideSnapshotProvider,
)

// EngineSet is the wire provider set for the coordination engine
var EngineSet = wire.NewSet(
	ProvideCoordinator,
)

// ServerSet is the wire provider set for the HTTP application
var ServerSet = wire.NewSet(
	ProvideServerOptions,
	ProvideApp,
)

// FullSet wires the whole service
var FullSet = wire.NewSet(
	LoggingSet,
	StorageSet,
	ProviderSet,
	EngineSet,
	ServerSet,
)
