package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "job-radar"
)

type Config struct {
	DatabaseURL string `mapstructure:"database-url"`
	RedisURL    string `mapstructure:"redis-url"`

	PostingsFile string `mapstructure:"postings-file"`

	Prefilter    *PrefilterConfig    `mapstructure:"prefilter"`
	Scoring      *ScoringConfig      `mapstructure:"scoring"`
	Scheduler    *SchedulerConfig    `mapstructure:"scheduler"`
	AI           *AIConfig           `mapstructure:"ai"`
	Notification *NotificationConfig `mapstructure:"notification"`

	CV      *CVConfig      `mapstructure:"cv"`
	Filters []FilterConfig `mapstructure:"filters"`
}

type PrefilterConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	ExcludeKeywords    []string `mapstructure:"exclude-keywords"`
	IncludeKeywords    []string `mapstructure:"include-keywords"`
	MustNotifyKeywords []string `mapstructure:"must-notify-keywords"`
}

type ScoringConfig struct {
	HighThreshold          int `mapstructure:"high-threshold"`
	MediumThreshold        int `mapstructure:"medium-threshold"`
	RequirementsCharBudget int `mapstructure:"requirements-char-budget"`
	MaxConcurrent          int `mapstructure:"max-concurrent"`
	TimeoutSeconds         int `mapstructure:"timeout-seconds"`
}

type SchedulerConfig struct {
	IntervalMinutes int    `mapstructure:"interval-minutes"`
	Region          string `mapstructure:"region"`
}

type AIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type NotificationConfig struct {
	Channel string `mapstructure:"channel"`
}

type CVConfig struct {
	File    string `mapstructure:"file"`
	Summary string `mapstructure:"summary"`
}

type FilterConfig struct {
	Name     string   `mapstructure:"name"`
	Keywords []string `mapstructure:"keywords"`
	Location string   `mapstructure:"location"`
	Remote   bool     `mapstructure:"remote"`
	Active   bool     `mapstructure:"active"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "job-radar matches job postings against your CV and notifies you about the good ones",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("database-url", "DATABASE_URL"); err != nil {
		log.Fatalf("binding DATABASE_URL environment variable: %v", err)
	}
	if err := viper.BindEnv("redis-url", "REDIS_URL"); err != nil {
		log.Fatalf("binding REDIS_URL environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is job-radar.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
