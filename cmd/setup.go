package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/ai"
	"github.com/spigell/job-radar/internal/ai/gemini"
	"github.com/spigell/job-radar/internal/db"
	"github.com/spigell/job-radar/internal/jobsource"
	"github.com/spigell/job-radar/internal/model"
	"github.com/spigell/job-radar/internal/notify"
	"github.com/spigell/job-radar/internal/pipeline"
	"github.com/spigell/job-radar/internal/prefilter"
	"github.com/spigell/job-radar/internal/scheduler"
	"github.com/spigell/job-radar/internal/scorer"
	"github.com/spigell/job-radar/internal/secrets"
	"github.com/spigell/job-radar/internal/store"
	"github.com/spigell/job-radar/internal/store/memory"
	"github.com/spigell/job-radar/internal/store/postgres"
)

// application holds everything a command needs after wiring.
type application struct {
	store     store.Store
	scheduler *scheduler.Scheduler
	cleanup   func()
}

// buildApplication wires the store, scorer, source, channel and scheduler
// from the parsed config. The channel may be decorated by the caller before
// it reaches the pipeline, hence the parameter.
func buildApplication(ctx context.Context, config *Config, channel notify.Channel, logger *zap.Logger) (*application, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	st, err := buildStore(ctx, config, &cleanups)
	if err != nil {
		cleanup()
		return nil, err
	}

	locker, err := buildLocker(ctx, config, &cleanups)
	if err != nil {
		cleanup()
		return nil, err
	}

	generator, err := buildGenerator(ctx, config, logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	if strings.TrimSpace(config.PostingsFile) == "" {
		cleanup()
		return nil, errors.New("postings-file is required")
	}
	source := jobsource.NewFileSource(config.PostingsFile)

	scCfg := scoringConfig(config.Scoring)
	if config.AI != nil && config.AI.Gemini != nil {
		scCfg.MaxLogLength = config.AI.Gemini.MaxLogLength
	}
	sc := scorer.New(generator, scCfg, logger)

	orch := pipeline.New(st, source, sc, channel, locker, pipelineConfig(config), logger)

	schedCfg := scheduler.Config{}
	if config.Scheduler != nil {
		schedCfg.IntervalMinutes = config.Scheduler.IntervalMinutes
		schedCfg.Region = config.Scheduler.Region
	}
	sched := scheduler.New(st, orch, schedCfg, logger)

	return &application{store: st, scheduler: sched, cleanup: cleanup}, nil
}

func buildStore(ctx context.Context, config *Config, cleanups *[]func()) (store.Store, error) {
	if strings.TrimSpace(config.DatabaseURL) != "" {
		pool, err := db.NewPostgresPool(ctx, config.DatabaseURL)
		if err != nil {
			return nil, err
		}
		*cleanups = append(*cleanups, pool.Close)
		return postgres.New(ctx, pool)
	}

	// Without a database the CV and filters come from the config file.
	mem := memory.New()
	if config.CV != nil && config.CV.File != "" {
		content, err := os.ReadFile(config.CV.File)
		if err != nil {
			return nil, fmt.Errorf("reading cv file: %w", err)
		}
		mem.SetActiveCV(&model.CV{
			Content: string(content),
			Summary: config.CV.Summary,
		})
	}

	filters := make([]model.SearchFilter, 0, len(config.Filters))
	for _, f := range config.Filters {
		filters = append(filters, model.SearchFilter{
			Name:     f.Name,
			Keywords: f.Keywords,
			Location: f.Location,
			Remote:   f.Remote,
			Active:   f.Active,
		})
	}
	mem.SetFilters(filters)

	return mem, nil
}

func buildLocker(ctx context.Context, config *Config, cleanups *[]func()) (pipeline.Locker, error) {
	if strings.TrimSpace(config.RedisURL) == "" {
		return pipeline.NewLocalLocker(), nil
	}

	client, err := db.NewRedisClient(ctx, config.RedisURL)
	if err != nil {
		return nil, err
	}
	*cleanups = append(*cleanups, func() { client.Close() })
	return pipeline.NewRedisLocker(client, 0), nil
}

func buildGenerator(ctx context.Context, config *Config, logger *zap.Logger) (ai.Generator, error) {
	if config.AI == nil || !config.AI.Enabled {
		return nil, nil
	}

	if config.AI.Provider != "" && config.AI.Provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", config.AI.Provider)
	}

	gc := config.AI.Gemini
	if gc == nil {
		return nil, errors.New("ai.gemini configuration is required when ai is enabled")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: gc.APIKey,
		Env:   "GEMINI_API_KEY",
		File:  gc.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("loading gemini api key: %w", err)
	}

	return gemini.NewGenerator(ctx, apiKey, gc.Model, gc.MaxRetries, logger)
}

func scoringConfig(sc *ScoringConfig) scorer.Config {
	if sc == nil {
		return scorer.Config{}
	}
	return scorer.Config{
		HighThreshold:          sc.HighThreshold,
		MediumThreshold:        sc.MediumThreshold,
		RequirementsCharBudget: sc.RequirementsCharBudget,
		Timeout:                time.Duration(sc.TimeoutSeconds) * time.Second,
	}
}

func pipelineConfig(config *Config) pipeline.Config {
	cfg := pipeline.Config{
		SkipPrefilter: viper.GetBool("pipeline.skip-prefilter"),
	}
	if config.Scoring != nil {
		cfg.ScoreConcurrency = config.Scoring.MaxConcurrent
	}
	if config.Prefilter != nil {
		cfg.Prefilter = prefilter.Config{
			Enabled:            config.Prefilter.Enabled,
			ExcludeKeywords:    config.Prefilter.ExcludeKeywords,
			IncludeKeywords:    config.Prefilter.IncludeKeywords,
			MustNotifyKeywords: config.Prefilter.MustNotifyKeywords,
		}
	}
	return cfg
}
