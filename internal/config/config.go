// Package config loads and validates pagecapture configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/pagecapture/internal/capture"
	"github.com/JakeFAU/pagecapture/internal/input"
	"github.com/JakeFAU/pagecapture/internal/logging"
	"github.com/JakeFAU/pagecapture/internal/packager"
	"github.com/JakeFAU/pagecapture/internal/policy/ratelimit"
	"github.com/JakeFAU/pagecapture/internal/progress"
	"github.com/JakeFAU/pagecapture/internal/renderer/headless"
	"github.com/JakeFAU/pagecapture/internal/storage/gcs"
	"github.com/JakeFAU/pagecapture/internal/storage/postgres"
	"github.com/JakeFAU/pagecapture/internal/telemetry"
	"github.com/JakeFAU/pagecapture/internal/worker"
)

// EnvPrefix is prepended to every environment override, e.g. PAGECAPTURE_SERVER_PORT.
const EnvPrefix = "PAGECAPTURE"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Capture   CaptureConfig    `mapstructure:"capture"`
	Browser   headless.Config  `mapstructure:"browser"`
	Input     InputConfig      `mapstructure:"input"`
	Packaging packager.Config  `mapstructure:"packaging"`
	Jobs      JobsConfig       `mapstructure:"jobs"`
	Progress  ProgressConfig   `mapstructure:"progress"`
	Storage   StorageConfig    `mapstructure:"storage"`
	DB        postgres.Config  `mapstructure:"db"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
	Logging   logging.Config   `mapstructure:"logging"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxUploadBytes caps the multipart body of a job submission.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	// RetainedJobs is how many finished jobs keep their event history in memory.
	RetainedJobs int `mapstructure:"retained_jobs"`
	// DownloadBase prefixes the escaped archive path in completion links.
	DownloadBase string `mapstructure:"download_base"`
}

// CaptureConfig governs how each screenshot is taken and laid out.
type CaptureConfig struct {
	OutputDir       string             `mapstructure:"output_dir"`
	NavTimeout      time.Duration      `mapstructure:"nav_timeout"`
	StabilizeDelay  time.Duration      `mapstructure:"stabilize_delay"`
	ShotTimeout     time.Duration      `mapstructure:"shot_timeout"`
	PerTaskEstimate time.Duration      `mapstructure:"per_task_estimate"`
	RemoveSelectors []string           `mapstructure:"remove_selectors"`
	HostQPS         float64            `mapstructure:"host_qps"`
	HostBurst       int                `mapstructure:"host_burst"`
	HashSuffix      bool               `mapstructure:"hash_suffix"`
	Viewports       []capture.Viewport `mapstructure:"viewports"`
}

// InputConfig maps spreadsheet headers to locales.
type InputConfig struct {
	Columns []input.Column `mapstructure:"columns"`
}

// JobsConfig sizes the background job pipeline.
type JobsConfig struct {
	Concurrency   int `mapstructure:"concurrency"`
	QueueSize     int `mapstructure:"queue_size"`
	JournalBuffer int `mapstructure:"journal_buffer"`
}

// ProgressConfig tunes the progress hub and its sinks.
type ProgressConfig struct {
	progress.HubConfig `mapstructure:",squash"`
	LogEvents          bool `mapstructure:"log_events"`
}

// StorageConfig points at optional remote archive storage.
type StorageConfig struct {
	GCS gcs.Config `mapstructure:"gcs"`
}

// PubSubConfig holds metadata for job completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	// Endpoint targets an emulator when set.
	Endpoint string `mapstructure:"endpoint"`
}

// Enabled reports whether notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("browser.exec_path", EnvPrefix+"_BROWSER_EXEC_PATH", "CHROME_EXECUTABLE_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.retained_jobs", 64)
	v.SetDefault("server.download_base", "/download?path=")

	v.SetDefault("capture.output_dir", "screenshots")
	v.SetDefault("capture.nav_timeout", "60s")
	v.SetDefault("capture.stabilize_delay", "3s")
	v.SetDefault("capture.shot_timeout", "60s")
	v.SetDefault("capture.per_task_estimate", "50s")
	v.SetDefault("capture.remove_selectors", []string{
		"#onetrust-consent-sdk",
		".cookie-banner",
		"[aria-label='cookieconsent']",
	})
	v.SetDefault("capture.host_qps", 0)
	v.SetDefault("capture.host_burst", 1)
	v.SetDefault("capture.hash_suffix", false)
	viewports := make([]map[string]any, 0, 3)
	for _, vp := range capture.DefaultCatalog().Viewports() {
		viewports = append(viewports, map[string]any{"name": vp.Name, "width": vp.Width, "height": vp.Height})
	}
	v.SetDefault("capture.viewports", viewports)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.idle_window", "500ms")
	v.SetDefault("browser.idle_max_inflight", 2)

	columns := make([]map[string]any, 0, 2)
	for _, c := range input.DefaultColumns() {
		columns = append(columns, map[string]any{"locale": c.Locale, "header": c.Header})
	}
	v.SetDefault("input.columns", columns)

	v.SetDefault("packaging.remove_source", false)

	v.SetDefault("jobs.concurrency", 1)
	v.SetDefault("jobs.queue_size", 16)
	v.SetDefault("jobs.journal_buffer", 256)

	v.SetDefault("progress.buffer", 1024)
	v.SetDefault("progress.batch_size", 64)
	v.SetDefault("progress.flush_every", "250ms")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("progress.log_events", true)

	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.migrate", true)

	v.SetDefault("storage.gcs.prefix", "archives")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("telemetry.service_name", "pagecapture")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Capture.OutputDir == "" {
		return fmt.Errorf("capture.output_dir is required")
	}
	if c.Capture.NavTimeout <= 0 {
		return fmt.Errorf("capture.nav_timeout must be > 0")
	}
	if c.Capture.StabilizeDelay < 0 {
		return fmt.Errorf("capture.stabilize_delay must be >= 0")
	}
	if c.Capture.HostQPS < 0 {
		return fmt.Errorf("capture.host_qps must be >= 0")
	}
	if _, err := c.Catalog(); err != nil {
		return fmt.Errorf("capture.viewports: %w", err)
	}
	if len(c.Input.Columns) == 0 {
		return fmt.Errorf("input.columns must name at least one column")
	}
	seen := make(map[string]struct{}, len(c.Input.Columns))
	for _, col := range c.Input.Columns {
		if col.Locale == "" || col.Header == "" {
			return fmt.Errorf("input.columns entries need locale and header")
		}
		if strings.ContainsAny(col.Locale, `/\`) || col.Locale == "." || col.Locale == ".." {
			return fmt.Errorf("input.columns: locale %q must be a plain directory name", col.Locale)
		}
		if _, dup := seen[col.Locale]; dup {
			return fmt.Errorf("input.columns: duplicate locale %q", col.Locale)
		}
		seen[col.Locale] = struct{}{}
	}
	if c.Jobs.Concurrency <= 0 {
		return fmt.Errorf("jobs.concurrency must be > 0")
	}
	if c.Jobs.QueueSize < 0 {
		return fmt.Errorf("jobs.queue_size must be >= 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return errors.New("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// Catalog returns the configured viewports in declaration order.
func (c Config) Catalog() (capture.Catalog, error) {
	if len(c.Capture.Viewports) == 0 {
		return capture.DefaultCatalog(), nil
	}
	catalog, err := capture.NewCatalog(c.Capture.Viewports)
	if err != nil {
		return capture.Catalog{}, fmt.Errorf("build catalog: %w", err)
	}
	return catalog, nil
}

// Locales returns the configured locales in column order.
func (c Config) Locales() []string {
	out := make([]string, 0, len(c.Input.Columns))
	for _, col := range c.Input.Columns {
		out = append(out, col.Locale)
	}
	return out
}

// Worker derives the per-capture settings.
func (c Config) Worker() worker.Config {
	return worker.Config{
		NavigationTimeout: c.Capture.NavTimeout,
		StabilizeDelay:    c.Capture.StabilizeDelay,
		ShotTimeout:       c.Capture.ShotTimeout,
		RemoveSelectors:   c.Capture.RemoveSelectors,
	}
}

// RateLimit derives the per-host politeness settings.
func (c Config) RateLimit() ratelimit.Config {
	return ratelimit.Config{HostQPS: c.Capture.HostQPS, Burst: c.Capture.HostBurst}
}
