package config

import (
	"time"

	"github.com/spf13/viper"
)

// Catalog describes a pre-registered Deriva catalog a submission may target
// by keyword instead of a raw catalog ID.
type Catalog struct {
	CatalogID string `mapstructure:"catalog_id"`
	Server    string `mapstructure:"server"`
}

// Config holds all configuration for the action provider. The mapstructure
// tags are used by Viper to unmarshal the data. A single Config is built in
// main and injected into every component; nothing reads viper afterwards.
type Config struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	AWSRegion   string `mapstructure:"aws_region"`
	DynamoTable string `mapstructure:"dynamo_table"`

	// Optional SQS queue for lifecycle events; empty disables publishing.
	EventQueueURL string `mapstructure:"event_queue_url"`

	GlobusClientID     string   `mapstructure:"globus_client_id"`
	GlobusClientSecret string   `mapstructure:"globus_client_secret"`
	GlobusScope        string   `mapstructure:"globus_scope"`
	GlobusAudience     string   `mapstructure:"globus_audience"`
	RunnableGroup      string   `mapstructure:"runnable_group"`
	VisibleTo          []string `mapstructure:"visible_to"`

	DerivaServer  string             `mapstructure:"deriva_server"`
	KnownCatalogs map[string]Catalog `mapstructure:"known_catalogs"`

	// DefaultReleaseAfter is how long a completed action stays readable
	// before it is eligible for release.
	DefaultReleaseAfter time.Duration `mapstructure:"default_release_after"`
	// EstimatedDuration feeds the submit-time deadline check.
	EstimatedDuration time.Duration `mapstructure:"estimated_duration"`
	// IngestDeadline is how long a non-terminal action may run before a
	// status poll marks it FAILED.
	IngestDeadline    time.Duration `mapstructure:"ingest_deadline"`
	WorkerConcurrency int64         `mapstructure:"worker_concurrency"`
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("aws_region", "us-east-1")
	viper.SetDefault("dynamo_table", "cfde-actions")
	viper.SetDefault("visible_to", []string{"all_authenticated_users"})
	viper.SetDefault("deriva_server", "demo.derivacloud.org")
	viper.SetDefault("default_release_after", "720h") // 30 days
	viper.SetDefault("estimated_duration", "24h")
	viper.SetDefault("ingest_deadline", "1h")
	viper.SetDefault("worker_concurrency", 4)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file: defaults and env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
