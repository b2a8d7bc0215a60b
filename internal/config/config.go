package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables. Command-line flags in the
// CLI layer override individual fields after loading.
type Config struct {
	DownloadDir string `envconfig:"DOWNLOAD_DIR" default:"./osu_packs"`
	Workers     int    `envconfig:"WORKERS" default:"3"`
	ChunkSize   int    `envconfig:"CHUNK_SIZE" default:"8192"`
	Delay       bool   `envconfig:"DELAY" default:"true"`
	Resume      bool   `envconfig:"RESUME" default:"true"`

	// BandwidthLimit caps each worker's throughput in MB/s. Zero
	// means unlimited.
	BandwidthLimit float64 `envconfig:"BANDWIDTH_LIMIT"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	StatePath      string        `envconfig:"STATE_PATH" default:"packgrab_state.json"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"INFO"`
	WebhookURL     string        `envconfig:"WEBHOOK_URL"`

	// MetricsAddr, when set, serves /metrics and /status on that
	// address for the duration of the run.
	MetricsAddr string `envconfig:"METRICS_ADDR"`
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("PACKGRAB", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// BytesPerSecond converts the MB/s limit into bytes for the token
// bucket.
func (c *Config) BytesPerSecond() float64 {
	return c.BandwidthLimit * 1024 * 1024
}
