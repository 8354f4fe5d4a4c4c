package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stewardhq/steward/errors"
	"github.com/stewardhq/steward/logger"
	"github.com/stewardhq/steward/server"
)

// StartCmd runs the scheduler daemon
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the scheduler daemon",
	Long: `Poll for due jobs at the configured interval and expose the HTTP
trigger endpoint (POST /run, GET /health). Stops cleanly on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return errors.Wrap(err, "load config")
		}

		database, err := openDatabase(cmd, cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		runner := buildRunner(cfg, database)
		httpServer := server.New(runner, cfg.Server.Port, logger.Logger)
		interval := time.Duration(cfg.Scheduler.PollIntervalSeconds) * time.Second

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return runner.RunForever(gctx, interval)
		})
		g.Go(func() error {
			return httpServer.ListenAndServe(gctx)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		logger.Infow("Daemon stopped")
		return nil
	},
}
