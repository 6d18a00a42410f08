// Package config provides configuration management for fourdrec using Viper.
// It supports configuration from files, environment variables, and defaults.
// The master, slave and resolve binaries all read the same document; each
// consumes the sections relevant to it.
package config

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultBusPort           = 18868
	defaultDialTimeout       = 5 * time.Second
	defaultOfflineDeadline   = time.Second
	defaultStatusInterval    = 5 * time.Second
	defaultCameraRetry       = 10 * time.Second
	defaultMeterInterval     = 16 * time.Millisecond
	defaultLiveViewQuality   = 60
	defaultLiveViewScale     = 640
	defaultSubmitQuality     = 85
	defaultRecordQueueDepth  = 120
	defaultEncoderWorkers    = 2
	defaultPollInterval      = 60 * time.Second
	defaultCacheDelay        = time.Second
	defaultCacheWorkers      = 4
	defaultExportWorkers     = 8
	defaultFarmPriority      = 50
	defaultFarmChunkSize     = 5
	defaultTextureResolution = 2048
)

// Config holds all configuration for the fourdrec services.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Bus         BusConfig         `mapstructure:"bus"`
	Master      MasterConfig      `mapstructure:"master"`
	Slave       SlaveConfig       `mapstructure:"slave"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Farm        FarmConfig        `mapstructure:"farm"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Export      ExportConfig      `mapstructure:"export"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DatabaseConfig holds the entity store configuration.
// The store is an embedded sqlite database on the master workstation.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// BusConfig holds the control-plane transport configuration.
// The master listens on Host:Port; every slave dials the same pair.
type BusConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// ListenAddr is the address the master binds.
func (c BusConfig) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DialAddr is the address slaves connect to. Slave nodes set bus.host to
// the master's hostname; the 0.0.0.0 default only makes sense for binding.
func (c BusConfig) DialAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// MasterConfig holds master-side settings.
type MasterConfig struct {
	// OfflineDeadline is the silence window after which a camera proxy
	// transitions to OFFLINE.
	OfflineDeadline time.Duration `mapstructure:"offline_deadline"`
	// MeterInterval throttles audio level fanout to the UI.
	MeterInterval time.Duration `mapstructure:"meter_interval"`
	// LiveViewQuality and LiveViewScale are the defaults sent with
	// TOGGLE_LIVE_VIEW when the operator has not chosen values.
	LiveViewQuality int `mapstructure:"live_view_quality"`
	LiveViewScale   int `mapstructure:"live_view_scale"`
}

// SlaveConfig holds slave-side settings.
type SlaveConfig struct {
	// Driver selects the camera factory: "fake" fabricates bench cameras.
	Driver string `mapstructure:"driver"`
	// Topology maps hostname to the camera serials that node must open.
	Topology map[string][]string `mapstructure:"topology"`
	// RecordDrives are the local directories shot files are spread across.
	RecordDrives []string `mapstructure:"record_drives"`
	// CameraRetryInterval is the wait between camera-count enforcement
	// attempts (each attempt preceded by a driver factory reset).
	CameraRetryInterval time.Duration `mapstructure:"camera_retry_interval"`
	// StatusInterval is how often SLAVE_STATUS system stats are published.
	StatusInterval time.Duration `mapstructure:"status_interval"`
	// EncoderWorkers is the live-view JPEG encoder pool size per node.
	EncoderWorkers int `mapstructure:"encoder_workers"`
	// RecordQueueDepth bounds the per-camera recording queue.
	RecordQueueDepth int          `mapstructure:"record_queue_depth"`
	Submit           SubmitConfig `mapstructure:"submit"`
}

// SubmitConfig holds shot submission settings.
type SubmitConfig struct {
	// JpegQuality is the encode quality for submitted frames.
	JpegQuality int `mapstructure:"jpeg_quality"`
	// BypassExistSize is the expected size of an already-submitted frame.
	// An existing destination file within ±40% of this size is skipped.
	// Zero disables the bypass. Supports human-readable values like "1.2MB".
	BypassExistSize ByteSize `mapstructure:"bypass_exist_size"`
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	// SubmitRoot is the shared root all project/shot/job folders live under.
	SubmitRoot string `mapstructure:"submit_root"`
	// CaliRoot is where calibration shot exports are collected.
	CaliRoot string `mapstructure:"cali_root"`
}

// FarmConfig holds render-farm submission configuration.
type FarmConfig struct {
	// Driver selects the farm binding: "simulated" runs the in-process
	// scripted farm.
	Driver       string        `mapstructure:"driver"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Pool         string        `mapstructure:"pool"`
	Group        string        `mapstructure:"group"`
	Priority     int           `mapstructure:"priority"`
	ChunkSize    int           `mapstructure:"chunk_size"`
}

// CacheConfig holds resolve playback cache configuration.
type CacheConfig struct {
	// Delay is the scrub-coalescing window before a cache miss loads.
	Delay time.Duration `mapstructure:"delay"`
	// Workers is the pool size used by whole-job pre-caching.
	Workers int `mapstructure:"workers"`
	// DefaultResolution is the initial preferred texture resolution.
	DefaultResolution int `mapstructure:"default_resolution"`
}

// ExportConfig holds export engine configuration.
type ExportConfig struct {
	Workers int `mapstructure:"workers"`
	// AudioTool is the external binary used to trim shot audio
	// (empty = auto-detect ffmpeg on PATH).
	AudioTool string `mapstructure:"audio_tool"`
}

// MaintenanceConfig holds the scheduled sweep configuration.
type MaintenanceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Cron is a 5-field cron expression for the sweep schedule.
	Cron string `mapstructure:"cron"`
	// PartialMaxAge is how old a staging temp file must be before the sweep
	// removes it.
	PartialMaxAge time.Duration `mapstructure:"partial_max_age"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with FOURDREC_ and use underscores for
// nesting. Example: FOURDREC_BUS_PORT=18868.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fourdrec")
		v.AddConfigPath("$HOME/.fourdrec")
	}

	v.SetEnvPrefix("FOURDREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decodeHooks returns the mapstructure hooks used to unmarshal the config.
// The TextUnmarshaller hook lets ByteSize fields accept values like "1.2MB".
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Database defaults
	v.SetDefault("database.dsn", "fourdrec.db")
	v.SetDefault("database.log_level", "warn")

	// Bus defaults
	v.SetDefault("bus.host", "0.0.0.0")
	v.SetDefault("bus.port", defaultBusPort)
	v.SetDefault("bus.dial_timeout", defaultDialTimeout)

	// Master defaults
	v.SetDefault("master.offline_deadline", defaultOfflineDeadline)
	v.SetDefault("master.meter_interval", defaultMeterInterval)
	v.SetDefault("master.live_view_quality", defaultLiveViewQuality)
	v.SetDefault("master.live_view_scale", defaultLiveViewScale)

	// Slave defaults
	v.SetDefault("slave.driver", "fake")
	v.SetDefault("slave.camera_retry_interval", defaultCameraRetry)
	v.SetDefault("slave.status_interval", defaultStatusInterval)
	v.SetDefault("slave.encoder_workers", defaultEncoderWorkers)
	v.SetDefault("slave.record_queue_depth", defaultRecordQueueDepth)
	v.SetDefault("slave.submit.jpeg_quality", defaultSubmitQuality)
	v.SetDefault("slave.submit.bypass_exist_size", 0)

	// Storage defaults
	v.SetDefault("storage.submit_root", "./data")
	v.SetDefault("storage.cali_root", "")

	// Farm defaults
	v.SetDefault("farm.driver", "simulated")
	v.SetDefault("farm.poll_interval", defaultPollInterval)
	v.SetDefault("farm.pool", "4drec")
	v.SetDefault("farm.group", "")
	v.SetDefault("farm.priority", defaultFarmPriority)
	v.SetDefault("farm.chunk_size", defaultFarmChunkSize)

	// Cache defaults
	v.SetDefault("cache.delay", defaultCacheDelay)
	v.SetDefault("cache.workers", defaultCacheWorkers)
	v.SetDefault("cache.default_resolution", defaultTextureResolution)

	// Export defaults
	v.SetDefault("export.workers", defaultExportWorkers)
	v.SetDefault("export.audio_tool", "")

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.cron", "0 3 * * *")
	v.SetDefault("maintenance.partial_max_age", 24*time.Hour)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Bus.Port < 1 || c.Bus.Port > maxPort {
		return fmt.Errorf("bus.port must be between 1 and %d", maxPort)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Master.OfflineDeadline <= 0 {
		return fmt.Errorf("master.offline_deadline must be positive")
	}
	if c.Farm.PollInterval < time.Second {
		return fmt.Errorf("farm.poll_interval must be at least 1s")
	}
	if c.Cache.Delay < 0 {
		return fmt.Errorf("cache.delay must not be negative")
	}
	if c.Slave.Submit.JpegQuality < 1 || c.Slave.Submit.JpegQuality > 100 {
		return fmt.Errorf("slave.submit.jpeg_quality must be between 1 and 100")
	}

	if c.Storage.SubmitRoot == "" {
		return fmt.Errorf("storage.submit_root is required")
	}

	return nil
}

// ExpectedCameras returns the camera serials the given hostname must drive,
// or an error when the host is not present in the topology.
func (c *SlaveConfig) ExpectedCameras(hostname string) ([]string, error) {
	serials, ok := c.Topology[hostname]
	if !ok {
		return nil, fmt.Errorf("host %q not present in slave.topology", hostname)
	}
	if len(serials) == 0 {
		return nil, fmt.Errorf("host %q has no cameras in slave.topology", hostname)
	}
	return serials, nil
}

// AllCameras returns every camera serial in the topology. The master builds
// its proxy registry from this set.
func (c *SlaveConfig) AllCameras() []string {
	var serials []string
	for _, list := range c.Topology {
		serials = append(serials, list...)
	}
	sort.Strings(serials)
	return serials
}
