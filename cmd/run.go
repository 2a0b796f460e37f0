package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/logger"
	"github.com/spigell/job-radar/internal/model"
	"github.com/spigell/job-radar/internal/notify"
	"github.com/spigell/job-radar/internal/scheduler"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var errDeclined = errors.New("notification declined at prompt")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one matching pass now",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before sending notifications")
	runCmd.Flags().Bool("skip-prefilter", false, "send every fetched posting straight to scoring")

	viper.BindPFlag("pipeline.skip-prefilter", runCmd.Flags().Lookup("skip-prefilter"))
}

// run executes a single manual pipeline pass.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the job-radar", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	var channel notify.Channel = notify.NewLogChannel(logger)
	if cmd.Flag("auto-approve").Value.String() == "false" {
		channel = &confirmingChannel{next: channel}
	}

	app, err := buildApplication(ctx, config, channel, logger)
	if err != nil {
		logger.Fatal("wiring the application", zap.Error(err))
	}
	defer app.cleanup()

	stats, err := app.scheduler.Trigger(ctx, scheduler.TriggerManual)
	if err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			logger.Info("exiting", zap.String("reason", "another run is already in progress"))
			return
		}
		logger.Fatal("pipeline run failed", zap.Error(err))
	}

	report, _ := json.MarshalIndent(stats, "", "  ")
	logger.Info(fmt.Sprintf("run report: \n %s", report))
}

// confirmingChannel shows the digest and asks before handing the matches to
// the wrapped channel. Declining counts as a dispatch failure, so nothing is
// recorded and the matches stay eligible for the next run.
type confirmingChannel struct {
	next notify.Channel
}

func (c *confirmingChannel) Name() string { return c.next.Name() }

func (c *confirmingChannel) Dispatch(ctx context.Context, matches []model.Match) error {
	fmt.Println(notify.RenderDigest(matches))

	prompt := promptui.Select{
		Label: "Send notifications for these matches?",
		Items: []string{PromptYes, PromptNo},
	}

	_, action, err := prompt.Run()
	if err != nil {
		return fmt.Errorf("confirmation prompt: %w", err)
	}
	if action != PromptYes {
		return errDeclined
	}

	return c.next.Dispatch(ctx, matches)
}
