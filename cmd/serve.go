package cmd

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/logger"
	"github.com/spigell/job-radar/internal/notify"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon, triggering matching passes on an interval",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the job-radar daemon", zap.String("version", version))

	app, err := buildApplication(ctx, config, notify.NewLogChannel(logger), logger)
	if err != nil {
		logger.Fatal("wiring the application", zap.Error(err))
	}
	defer app.cleanup()

	if err := app.scheduler.Start(ctx); err != nil {
		logger.Fatal("starting the scheduler", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("shutdown requested, waiting for the current run to finish")
	app.scheduler.Stop()
}
