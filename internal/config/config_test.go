package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 18868, cfg.Bus.Port)
	assert.Equal(t, time.Second, cfg.Master.OfflineDeadline)
	assert.Equal(t, 16*time.Millisecond, cfg.Master.MeterInterval)
	assert.Equal(t, 60*time.Second, cfg.Farm.PollInterval)
	assert.Equal(t, time.Second, cfg.Cache.Delay)
	assert.Equal(t, 10*time.Second, cfg.Slave.CameraRetryInterval)
	assert.Equal(t, 85, cfg.Slave.Submit.JpegQuality)
	assert.True(t, cfg.Maintenance.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
logging:
  level: debug
  format: text
bus:
  host: 10.0.0.5
  port: 9000
slave:
  topology:
    node-a: [CAM001, CAM002]
    node-b: [CAM003]
  record_drives: [/mnt/rec0, /mnt/rec1]
  submit:
    bypass_exist_size: 1.2MB
storage:
  submit_root: /srv/4d
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "10.0.0.5", cfg.Bus.Host)
	assert.Equal(t, 9000, cfg.Bus.Port)
	assert.Equal(t, []string{"/mnt/rec0", "/mnt/rec1"}, cfg.Slave.RecordDrives)
	fracMB := 1.2 * 1024 * 1024 // non-integral: must convert at runtime, not as a constant
	assert.Equal(t, int64(fracMB), cfg.Slave.Submit.BypassExistSize.Bytes())
	assert.Equal(t, "/srv/4d", cfg.Storage.SubmitRoot)

	serials, err := cfg.Slave.ExpectedCameras("node-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"CAM001", "CAM002"}, serials)

	_, err = cfg.Slave.ExpectedCameras("node-x")
	assert.Error(t, err)

	assert.Equal(t, []string{"CAM001", "CAM002", "CAM003"}, cfg.Slave.AllCameras())
}

func TestValidateErrors(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		require.NoError(t, v.Unmarshal(&cfg))
		return &cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Bus.Port = 0 }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero deadline", func(c *Config) { c.Master.OfflineDeadline = 0 }},
		{"fast poll", func(c *Config) { c.Farm.PollInterval = 100 * time.Millisecond }},
		{"bad quality", func(c *Config) { c.Slave.Submit.JpegQuality = 0 }},
		{"empty submit root", func(c *Config) { c.Storage.SubmitRoot = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FOURDREC_BUS_PORT", "4444")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4444, cfg.Bus.Port)
}
