package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/insightboard/insightboard/internal/api"
	"github.com/insightboard/insightboard/internal/auth"
	"github.com/insightboard/insightboard/internal/config"
	"github.com/insightboard/insightboard/internal/consumer"
	"github.com/insightboard/insightboard/internal/database"
	"github.com/insightboard/insightboard/internal/gateway"
	"github.com/insightboard/insightboard/internal/producer"
	"github.com/insightboard/insightboard/internal/relay"
	"github.com/insightboard/insightboard/internal/store"
	"github.com/insightboard/insightboard/internal/streamlog"
	"github.com/insightboard/insightboard/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/server.local.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting insightboard server",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// The relational database is a hard dependency: without it nothing
	// works, so a connect failure is fatal rather than degraded.
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	stores, err := store.NewPostgres(ctx, pool)
	if err != nil {
		logger.Error("failed to initialize stores", "error", err)
		os.Exit(1)
	}

	logStorage, err := streamlog.NewPostgresStorage(ctx, pool)
	if err != nil {
		logger.Error("failed to initialize log storage", "error", err)
		os.Exit(1)
	}
	defer logStorage.Close()

	broker := streamlog.NewBroker(streamlog.Config{
		Topic:      cfg.Broker.Topic,
		Partitions: cfg.Broker.Partitions,
	}, logStorage, logger.With("component", "broker"))
	defer broker.Close()

	// Pipeline components start in degraded-tolerant mode: a startup
	// failure marks the component unavailable and the process keeps
	// serving what it can.
	prod := producer.New(producer.Config{
		ConnectRetries:    cfg.Broker.ConnectRetries,
		ConnectRetryDelay: cfg.Broker.ConnectRetryDelay,
	}, broker, logger.With("component", "producer"))
	if err := prod.Start(ctx); err != nil {
		logger.Error("producer unavailable, continuing degraded", "error", err)
	}

	rly := relay.New(relay.Config{
		SubscriberBuffer: cfg.Relay.SubscriberBuffer,
	}, logger.With("component", "relay"))
	if err := rly.Start(); err != nil {
		logger.Error("relay unavailable, continuing degraded", "error", err)
	}

	cons := consumer.New(consumer.Config{
		Group:             cfg.Broker.ConsumerGroup,
		ConnectRetries:    cfg.Broker.ConnectRetries,
		ConnectRetryDelay: cfg.Broker.ConnectRetryDelay,
		FetchBatchSize:    cfg.Broker.FetchBatchSize,
	}, broker, stores, rly, logger.With("component", "consumer"))
	if err := cons.Start(ctx); err != nil {
		logger.Error("consumer unavailable, continuing degraded", "error", err)
	}

	tokens := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	gw := gateway.New(gateway.Config{}, tokens, stores, stores, rly, logger.With("component", "gateway"))

	apiServer := api.NewServer(api.Config{MaxBatch: cfg.Ingest.MaxBatch}, api.Deps{
		Tokens:      tokens,
		Users:       stores,
		Dashboards:  stores,
		Guard:       stores,
		Metrics:     stores,
		MetricAdmin: stores,
		Producer:    prod,
		Consumer:    cons,
		Relay:       rly,
		DB:          stores,
		Gateway:     gw,
	}, logger.With("component", "api"))

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: apiServer.Routes(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info("server running",
		"instance_id", cfg.Instance.ID,
		"topic", cfg.Broker.Topic,
		"partitions", cfg.Broker.Partitions,
	)

	if err := g.Wait(); err != nil {
		logger.Error("http server error", "error", err)
	}

	logger.Info("shutting down...")

	// Stop order matters: quiesce the consumer before tearing down the
	// relay it publishes to, then release the broker.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := cons.Stop(stopCtx); err != nil {
		logger.Error("consumer stop failed", "error", err)
	}
	if err := prod.Stop(stopCtx); err != nil {
		logger.Error("producer stop failed", "error", err)
	}
	rly.Close()

	logger.Info("server stopped")
}
