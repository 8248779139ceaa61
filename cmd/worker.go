package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/debitum/internal/database"
	"example.com/debitum/internal/projection"
	"example.com/debitum/internal/scheduler"
	"example.com/debitum/internal/search"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that repairs projection lag and keeps the contact search index current.`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer database.Close(db)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	sched, err := scheduler.New()
	if err != nil {
		return err
	}
	sched.Register(scheduler.NewConsistencyJob(db, projection.NewProjector(), cfg.Worker.ConsistencyInterval))

	if cfg.Elastic.Enabled {
		es, err := search.NewElasticClient(cfg.Elastic)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without indexing")
		} else {
			sched.Register(scheduler.NewIndexJob(db, es, cfg.Worker.IndexInterval))
		}
	}

	g.Go(func() error {
		log.Info().Msg("Starting background worker")
		return sched.Start(ctx)
	})

	return g.Wait()
}
