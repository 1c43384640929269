// Package config provides configuration management for the ingestion engine.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the complete application configuration loaded from
// environment variables.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Catalog  CatalogConfig  `envPrefix:"CATALOG_"`
	Download DownloadConfig `envPrefix:"DOWNLOAD_"`
	Ingest   IngestConfig   `envPrefix:"INGEST_"`
	Store    StoreConfig    `envPrefix:"STORE_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
	Logging  LoggingConfig  `envPrefix:"LOG_"`
}

// CatalogConfig configures the granule catalog client.
type CatalogConfig struct {
	BaseURL  string        `env:"BASE_URL" envDefault:"https://catalog.ngdc.noaa.gov/granules"`
	Provider string        `env:"PROVIDER" envDefault:"NOAA"`
	PageSize int           `env:"PAGE_SIZE" envDefault:"500"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// DownloadConfig configures the concurrent granule fetcher.
type DownloadConfig struct {
	Username    string        `env:"USERNAME"`
	Password    string        `env:"PASSWORD"`
	Concurrency int           `env:"CONCURRENCY" envDefault:"8"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"120s"`
	StagingDir  string        `env:"STAGING_DIR" envDefault:"/tmp/raster-ingest"`
}

// IngestConfig configures aggregation and orchestration.
type IngestConfig struct {
	BucketWidth     time.Duration `env:"BUCKET_WIDTH" envDefault:"30m"`
	CheckpointEvery int           `env:"CHECKPOINT_EVERY" envDefault:"10"`
	DateAttempts    int           `env:"DATE_ATTEMPTS" envDefault:"3"`
	DateRetryDelay  time.Duration `env:"DATE_RETRY_DELAY" envDefault:"30s"`
	TerritoryPath   string        `env:"TERRITORY_PATH,required"`

	// Output geographic grid: cell size and extent in degrees.
	GridCellDeg float64 `env:"GRID_CELL_DEG" envDefault:"0.05"`
	GridMinLat  float64 `env:"GRID_MIN_LAT" envDefault:"-35"`
	GridMaxLat  float64 `env:"GRID_MAX_LAT" envDefault:"13"`
	GridMinLon  float64 `env:"GRID_MIN_LON" envDefault:"-94"`
	GridMaxLon  float64 `env:"GRID_MAX_LON" envDefault:"-33"`
}

// StoreConfig configures the artifact stores.
type StoreConfig struct {
	RasterDir      string        `env:"RASTER_DIR,required"`
	ArchiveDir     string        `env:"ARCHIVE_DIR,required"`
	CheckpointDir  string        `env:"CHECKPOINT_DIR,required"`
	ArchiveRetries int           `env:"ARCHIVE_RETRIES" envDefault:"3"`
	ArchiveBackoff time.Duration `env:"ARCHIVE_BACKOFF" envDefault:"5s"`
}

// KafkaConfig configures the optional ingest-event notifier.
type KafkaConfig struct {
	Enabled bool     `env:"ENABLED" envDefault:"false"`
	Brokers []string `env:"BROKERS" envDefault:"localhost:9092"`
	Topic   string   `env:"TOPIC" envDefault:"raster-ingest-events"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog base URL is required")
	}
	if c.Catalog.PageSize < 1 {
		return fmt.Errorf("catalog page size must be positive, got %d", c.Catalog.PageSize)
	}
	if c.Download.Concurrency < 1 {
		return fmt.Errorf("download concurrency must be positive, got %d", c.Download.Concurrency)
	}
	if c.Ingest.BucketWidth <= 0 {
		return fmt.Errorf("bucket width must be positive, got %s", c.Ingest.BucketWidth)
	}
	if rem := (24 * time.Hour) % c.Ingest.BucketWidth; rem != 0 {
		return fmt.Errorf("bucket width %s must divide 24h evenly", c.Ingest.BucketWidth)
	}
	if c.Ingest.CheckpointEvery < 1 {
		return fmt.Errorf("checkpoint interval must be positive, got %d", c.Ingest.CheckpointEvery)
	}
	if c.Ingest.DateAttempts < 1 {
		return fmt.Errorf("date attempts must be positive, got %d", c.Ingest.DateAttempts)
	}
	if c.Ingest.GridCellDeg <= 0 {
		return fmt.Errorf("grid cell size must be positive, got %g", c.Ingest.GridCellDeg)
	}
	if c.Ingest.GridMinLat >= c.Ingest.GridMaxLat {
		return fmt.Errorf("grid latitude extent is empty: [%g, %g]", c.Ingest.GridMinLat, c.Ingest.GridMaxLat)
	}
	if c.Ingest.GridMinLon >= c.Ingest.GridMaxLon {
		return fmt.Errorf("grid longitude extent is empty: [%g, %g]", c.Ingest.GridMinLon, c.Ingest.GridMaxLon)
	}
	if c.Store.ArchiveRetries < 1 {
		return fmt.Errorf("archive retries must be positive, got %d", c.Store.ArchiveRetries)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka is enabled but no brokers are configured")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}
	return nil
}
