package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Provider identifies which source store implementation serves a bucket mapping.
type Provider string

const (
	// ProviderOBS is the primary source (Huawei OBS, S3-compatible API).
	ProviderOBS Provider = "obs"
	// ProviderS3 is the secondary source (AWS S3 or compatible).
	ProviderS3 Provider = "s3"
)

// Config represents the application configuration
type Config struct {
	LogLevel       string          `yaml:"log_level"`
	OBS            Endpoint        `yaml:"obs"`
	S3             Endpoint        `yaml:"s3"`
	OSS            Endpoint        `yaml:"oss"`
	Migration      Migration       `yaml:"migration"`
	BucketMappings []BucketMapping `yaml:"bucket_mappings"`
}

// Endpoint holds connection settings for one storage endpoint
type Endpoint struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
}

// BucketMapping pairs one source bucket/prefix with one target bucket/prefix.
// Immutable once the engine starts.
type BucketMapping struct {
	SourceBucket    string   `yaml:"source_bucket"`
	Provider        Provider `yaml:"provider"`
	SourcePrefix    string   `yaml:"source_prefix"`
	TargetBucket    string   `yaml:"target_bucket"`
	TargetPrefix    string   `yaml:"target_prefix"`
	ExcludeSuffixes []string `yaml:"exclude_suffixes"`
	ItemLimit       int64    `yaml:"item_limit"`
}

// Migration represents migration-specific configuration
type Migration struct {
	Concurrency        int    `yaml:"concurrency"`
	ChunkSize          int64  `yaml:"chunk_size"`
	StreamingThreshold int64  `yaml:"streaming_threshold"`
	MaxAttempts        int    `yaml:"max_attempts"`
	RetryIntervalS     int    `yaml:"retry_interval_s"`
	ItemLimit          int64  `yaml:"item_limit"`
	ProgressIntervalS  int    `yaml:"progress_interval_s"`
	Checkpoint         string `yaml:"checkpoint"`
	Resume             bool   `yaml:"resume"`
	DryRun             bool   `yaml:"dry_run"`
	ReportDir          string `yaml:"report_dir"`
	MetricsAddr        string `yaml:"metrics_addr"`
}

// Load loads configuration from file, environment and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Migration: Migration{
			Concurrency:       50,
			ChunkSize:         5 * 1024 * 1024,
			MaxAttempts:       3,
			RetryIntervalS:    5,
			ProgressIntervalS: 5,
			Checkpoint:        "./checkpoint.db",
			Resume:            true,
			ReportDir:         "./migrate_log",
			MetricsAddr:       ":8080",
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if cfg.Migration.StreamingThreshold <= 0 {
		cfg.Migration.StreamingThreshold = 10 * cfg.Migration.ChunkSize
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv resolves credentials from environment variables, which take
// precedence over the config file so secrets can stay out of it.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("OBS_ACCESS_KEY"); v != "" {
		cfg.OBS.AccessKey = v
	}
	if v := os.Getenv("OBS_SECRET_KEY"); v != "" {
		cfg.OBS.SecretKey = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		cfg.S3.AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		cfg.S3.SecretKey = v
	}
	if v := os.Getenv("OSS_ACCESS_KEY"); v != "" {
		cfg.OSS.AccessKey = v
	}
	if v := os.Getenv("OSS_SECRET_KEY"); v != "" {
		cfg.OSS.SecretKey = v
	}
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("concurrency") {
		cfg.Migration.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("chunk-size") {
		cfg.Migration.ChunkSize, _ = flags.GetInt64("chunk-size")
	}
	if flags.Changed("streaming-threshold") {
		cfg.Migration.StreamingThreshold, _ = flags.GetInt64("streaming-threshold")
	}
	if flags.Changed("max-attempts") {
		cfg.Migration.MaxAttempts, _ = flags.GetInt("max-attempts")
	}
	if flags.Changed("retry-interval") {
		cfg.Migration.RetryIntervalS, _ = flags.GetInt("retry-interval")
	}
	if flags.Changed("item-limit") {
		cfg.Migration.ItemLimit, _ = flags.GetInt64("item-limit")
	}
	if flags.Changed("progress-interval") {
		cfg.Migration.ProgressIntervalS, _ = flags.GetInt("progress-interval")
	}
	if flags.Changed("checkpoint") {
		cfg.Migration.Checkpoint, _ = flags.GetString("checkpoint")
	}
	if flags.Changed("resume") {
		cfg.Migration.Resume, _ = flags.GetBool("resume")
	}
	if flags.Changed("dry-run") {
		cfg.Migration.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("report-dir") {
		cfg.Migration.ReportDir, _ = flags.GetString("report-dir")
	}
	if flags.Changed("metrics-addr") {
		cfg.Migration.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	return nil
}

func (c *Config) validate() error {
	if len(c.BucketMappings) == 0 {
		return fmt.Errorf("at least one bucket mapping is required")
	}

	needOBS := false
	needS3 := false
	for i, m := range c.BucketMappings {
		if m.SourceBucket == "" {
			return fmt.Errorf("bucket mapping %d: source bucket is required", i)
		}
		if m.TargetBucket == "" {
			return fmt.Errorf("bucket mapping %d: target bucket is required", i)
		}
		switch m.Provider {
		case ProviderOBS, "":
			needOBS = true
		case ProviderS3:
			needS3 = true
		default:
			return fmt.Errorf("bucket mapping %d: unknown provider %q", i, m.Provider)
		}
		if m.ItemLimit < 0 {
			return fmt.Errorf("bucket mapping %d: item limit cannot be negative", i)
		}
	}

	if needOBS {
		if err := checkEndpoint("obs", c.OBS); err != nil {
			return err
		}
	}
	if needS3 {
		if err := checkEndpoint("s3", c.S3); err != nil {
			return err
		}
	}
	if err := checkEndpoint("oss", c.OSS); err != nil {
		return err
	}

	if c.Migration.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Migration.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.Migration.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.Migration.RetryIntervalS < 0 {
		return fmt.Errorf("retry interval cannot be negative")
	}
	if c.Migration.ItemLimit < 0 {
		return fmt.Errorf("item limit cannot be negative")
	}

	return nil
}

func checkEndpoint(name string, ep Endpoint) error {
	if ep.Endpoint == "" {
		return fmt.Errorf("%s endpoint is required", name)
	}
	if ep.AccessKey == "" {
		return fmt.Errorf("%s access key is required", name)
	}
	if ep.SecretKey == "" {
		return fmt.Errorf("%s secret key is required", name)
	}
	return nil
}
