package config

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/tidemark/pkg/errors"
)

// Defaults shared by the loader and NewConfig.
const (
	DefaultERPBaseURL       = "https://integration.visma.net/API"
	DefaultERPTokenURL      = "https://connect.visma.com/connect/token"
	DefaultInitialWatermark = "1970-01-01T00:00:00Z"
	DefaultLookback         = 180 * 24 * time.Hour
)

// Config is the root configuration of a tidemark run.
type Config struct {
	ERP           ERPConfig           `mapstructure:"erp" yaml:"erp"`
	Drive         DriveConfig         `mapstructure:"drive" yaml:"drive"`
	Destination   DestinationConfig   `mapstructure:"destination" yaml:"destination"`
	State         StateConfig         `mapstructure:"state" yaml:"state"`
	Reliability   ReliabilityConfig   `mapstructure:"reliability" yaml:"reliability"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// ERPConfig configures the Visma.net source.
type ERPConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	BaseURL      string   `mapstructure:"base_url" yaml:"base_url"`
	TokenURL     string   `mapstructure:"token_url" yaml:"token_url"`
	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret"`
	TenantIDs    []string `mapstructure:"tenant_ids" yaml:"tenant_ids"`

	// Lookback is how far back the ledger watermark may lag before the
	// period backfill replaces the modified-since fetch.
	Lookback time.Duration `mapstructure:"lookback" yaml:"lookback"`
	// EmptyPeriodLimit is the number of consecutive empty periods that end a
	// ledger backfill.
	EmptyPeriodLimit   int           `mapstructure:"empty_period_limit" yaml:"empty_period_limit"`
	TokenRefreshMargin time.Duration `mapstructure:"token_refresh_margin" yaml:"token_refresh_margin"`
	InitialWatermark   string        `mapstructure:"initial_watermark" yaml:"initial_watermark"`
}

// DriveConfig configures the Google Drive source.
type DriveConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	DriveID         string `mapstructure:"drive_id" yaml:"drive_id"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	// Endpoint overrides the Drive API base URL.
	Endpoint         string         `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	InitialWatermark string         `mapstructure:"initial_watermark" yaml:"initial_watermark"`
	Folders          []FolderConfig `mapstructure:"folders" yaml:"folders"`
}

// FolderConfig maps one Drive folder onto one output table.
type FolderConfig struct {
	FolderID   string   `mapstructure:"folder_id" yaml:"folder_id"`
	TableName  string   `mapstructure:"table_name" yaml:"table_name"`
	MimeType   string   `mapstructure:"mime_type" yaml:"mime_type"`
	PrimaryKey []string `mapstructure:"primary_key" yaml:"primary_key"`
}

// DestinationConfig selects and configures the sink.
type DestinationConfig struct {
	Type string `mapstructure:"type" yaml:"type"`

	// jsonl
	Path     string `mapstructure:"path" yaml:"path,omitempty"`
	Compress bool   `mapstructure:"compress" yaml:"compress"`

	// postgres
	DSN    string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	Schema string `mapstructure:"schema" yaml:"schema,omitempty"`

	// gcs
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`

	// kafka
	Brokers     []string `mapstructure:"brokers" yaml:"brokers,omitempty"`
	TopicPrefix string   `mapstructure:"topic_prefix" yaml:"topic_prefix,omitempty"`

	// mongodb
	URI      string `mapstructure:"uri" yaml:"uri,omitempty"`
	Database string `mapstructure:"database" yaml:"database,omitempty"`
}

// StateConfig selects the watermark store.
type StateConfig struct {
	Type  string `mapstructure:"type" yaml:"type"` // file, postgres or memory
	Path  string `mapstructure:"path" yaml:"path,omitempty"`
	DSN   string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	Table string `mapstructure:"table" yaml:"table,omitempty"`
}

// ReliabilityConfig contains retry and rate limiting settings for outbound HTTP.
type ReliabilityConfig struct {
	RetryAttempts   int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	MaxRetryDelay   time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec" yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   string `mapstructure:"log_format" yaml:"log_format"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file,omitempty"`
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
	Tracing     bool   `mapstructure:"tracing" yaml:"tracing"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		ERP: ERPConfig{
			BaseURL:            DefaultERPBaseURL,
			TokenURL:           DefaultERPTokenURL,
			Lookback:           DefaultLookback,
			EmptyPeriodLimit:   1,
			TokenRefreshMargin: 60 * time.Second,
			InitialWatermark:   DefaultInitialWatermark,
		},
		Drive: DriveConfig{
			InitialWatermark: DefaultInitialWatermark,
		},
		Destination: DestinationConfig{
			Type: "jsonl",
			Path: "output",
		},
		State: StateConfig{
			Type:  "file",
			Path:  "tidemark_state.json",
			Table: "tidemark_watermarks",
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:  3,
			RetryDelay:     time.Second,
			MaxRetryDelay:  30 * time.Second,
			RateLimitBurst: 1,
			RequestTimeout: 60 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	if !c.ERP.Enabled && !c.Drive.Enabled {
		return errors.New(errors.ErrorTypeConfig, "at least one of erp or drive must be enabled")
	}

	if c.ERP.Enabled {
		if c.ERP.ClientID == "" || c.ERP.ClientSecret == "" {
			return errors.New(errors.ErrorTypeConfig, "erp.client_id and erp.client_secret are required")
		}
		if len(c.ERP.TenantIDs) == 0 {
			return errors.New(errors.ErrorTypeConfig, "erp.tenant_ids must list at least one tenant")
		}
		if c.ERP.EmptyPeriodLimit < 1 {
			return errors.New(errors.ErrorTypeConfig, "erp.empty_period_limit must be at least 1")
		}
		if c.ERP.Lookback <= 0 {
			return errors.New(errors.ErrorTypeConfig, "erp.lookback must be positive")
		}
	}

	if c.Drive.Enabled {
		if len(c.Drive.Folders) == 0 {
			return errors.New(errors.ErrorTypeConfig, "drive.folders must list at least one folder")
		}
		seen := make(map[string]bool, len(c.Drive.Folders))
		for i, f := range c.Drive.Folders {
			if f.FolderID == "" || f.TableName == "" || f.MimeType == "" {
				return errors.Newf(errors.ErrorTypeConfig, "drive.folders[%d]: folder_id, table_name and mime_type are required", i)
			}
			if seen[f.TableName] {
				return errors.Newf(errors.ErrorTypeConfig, "drive.folders[%d]: duplicate table_name %q", i, f.TableName)
			}
			seen[f.TableName] = true
		}
	}

	if err := c.Destination.validate(); err != nil {
		return err
	}

	switch c.State.Type {
	case "file":
		if c.State.Path == "" {
			return errors.New(errors.ErrorTypeConfig, "state.path is required for the file store")
		}
	case "memory":
	case "postgres":
		if c.State.DSN == "" {
			return errors.New(errors.ErrorTypeConfig, "state.dsn is required for the postgres store")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown state type %q", c.State.Type)
	}

	if c.Reliability.RetryAttempts < 1 {
		return errors.New(errors.ErrorTypeConfig, "reliability.retry_attempts must be at least 1")
	}

	return nil
}

func (d *DestinationConfig) validate() error {
	var missing string
	switch d.Type {
	case "jsonl":
		if d.Path == "" {
			missing = "path"
		}
	case "postgres":
		if d.DSN == "" {
			missing = "dsn"
		}
	case "gcs":
		if d.Bucket == "" {
			missing = "bucket"
		}
	case "kafka":
		if len(d.Brokers) == 0 {
			missing = "brokers"
		}
	case "mongodb":
		if d.URI == "" || d.Database == "" {
			missing = "uri and database"
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown destination type %q", d.Type)
	}
	if missing != "" {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination.%s is required for %s", missing, d.Type))
	}
	return nil
}

// Redacted returns a copy with credentials masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.ERP.ClientSecret = mask(c.ERP.ClientSecret)
	c.Destination.DSN = mask(c.Destination.DSN)
	c.Destination.URI = mask(c.Destination.URI)
	c.State.DSN = mask(c.State.DSN)
	c.Drive.Folders = append([]FolderConfig(nil), c.Drive.Folders...)
	return c
}
