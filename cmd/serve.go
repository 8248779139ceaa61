package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/debitum/api"
	"example.com/debitum/api/handlers"
	"example.com/debitum/api/routes"
	"example.com/debitum/internal/cache"
	"example.com/debitum/internal/database"
	"example.com/debitum/internal/eventstore"
	"example.com/debitum/internal/permission"
	"example.com/debitum/internal/projection"
	"example.com/debitum/internal/realtime"
	"example.com/debitum/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if cfg.DB.EnableMigrations {
		if err := database.AutoMigrate(db); err != nil {
			return err
		}
	}

	nrApp, err := telemetry.InitNewRelic(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	}

	hub := realtime.NewHub()
	gate := permission.NewGormGate(db)
	projector := projection.NewProjector()

	var store eventstore.Store = eventstore.NewGormStore(db, gate, projector, hub)
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to Redis, continuing without digest cache")
		} else {
			defer redisClient.Close()
			store = cache.NewDigestStore(store, redisClient)
		}
	}

	server := api.NewServer(cfg, db, nrApp, routes.Handlers{
		Sync:   handlers.NewSyncHandler(store, gate, cfg.Sync.PullPageSize, cfg.Sync.PushBatchMax),
		WS:     handlers.NewWSHandler(hub, gate),
		Health: handlers.NewHealthHandler(db),
	})

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
