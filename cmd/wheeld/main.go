package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vdjjd/faninteract/config"
	"github.com/vdjjd/faninteract/events/kafka"
	"github.com/vdjjd/faninteract/pkg/spin"
	"github.com/vdjjd/faninteract/server"
	appwire "github.com/vdjjd/faninteract/wire"
)

var (
	cfgFile string
	version = getVersion()
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "wheeld",
		Short:   "Prize wheel spin coordination service",
		Version: version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	serveCmd.Flags().StringVarP(&cfgFile, "config", "c", "config.yaml", "path to config file")

	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := appwire.ProvideLogger(cfg)

	store, err := appwire.ProvideStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := store.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	redisClient, err := appwire.ProvideRedisClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	sms := appwire.ProvideSMSProvider(cfg, logger)
	snapshots := appwire.ProvideSnapshotProvider(redisClient, logger)

	// One id per process ties the producer and consumer together so this
	// instance skips its own events on the shared topic.
	instanceID := uuid.New().String()

	var publisher spin.Publisher
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:    cfg.Kafka.Brokers,
		Topic:      cfg.Kafka.SpinTopic,
		InstanceID: instanceID,
		Logger:     logger,
	})
	if producer != nil {
		publisher = producer
	}

	coordinator := appwire.ProvideCoordinator(store, sms, snapshots, publisher, logger)

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		Topic:         cfg.Kafka.SpinTopic,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
		InstanceID:    instanceID,
		Logger:        logger,
	}, coordinator.HandleRemoteEvent)
	if consumer != nil {
		if err := consumer.Start(); err != nil {
			return fmt.Errorf("failed to start kafka consumer: %w", err)
		}
	}

	app := appwire.ProvideApp(appwire.ProvideServerOptions(cfg, logger, coordinator))
	app.UseCommonMiddlewares()
	app.RegisterHealthCheck()
	app.RegisterSpinRoutes()
	app.RegisterSwagger(server.SwaggerInfo{
		Title:       "FanInteract Wheel API",
		Description: "Prize wheel spin coordination service",
		Version:     version,
	}, nil)

	app.OnShutdown(func() {
		if consumer != nil {
			_ = consumer.Stop()
		}
		if producer != nil {
			_ = producer.Close()
		}
		_ = redisClient.Close()
	})

	return app.Run()
}
