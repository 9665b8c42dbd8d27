package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lk2023060901/nanami/internal/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9000
database:
  host: db.internal
  dbname: nanami
  automigrate: true
backends:
  preferred: ton
  providers:
    ton:
      url: http://ton.internal:8080
      timeout: 30s
    archive:
      type: minio
      minio:
        endpoint: minio.internal:9000
        access_key: ak
        secret_key: sk
        bucket: pieces
      chunk_size: 8388608
workers:
  size: 4
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.True(t, cfg.Database.AutoMigrate)
	// defaults survive for keys the file omits
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 1024, cfg.Workers.QueueSize)
	assert.Equal(t, 4, cfg.Workers.Size)

	require.Len(t, cfg.Backends.Providers, 2)
	ton := cfg.Backends.Providers["ton"]
	assert.Equal(t, "http://ton.internal:8080", ton.URL)
	assert.Equal(t, 30*time.Second, ton.Timeout)
	archive := cfg.Backends.Providers["archive"]
	assert.Equal(t, upstream.TypeMinIO, archive.Type)
	assert.Equal(t, "pieces", archive.MinIO.Bucket)
	assert.Equal(t, 8<<20, archive.ChunkSize)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("NANAMI_SERVER_PORT", "9100")
	t.Setenv("NANAMI_DATABASE_PASSWORD", "secret")

	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Database.Password)
}

func TestLoadConfig_Inline(t *testing.T) {
	t.Setenv(EnvConfig, `
backends:
  providers:
    ton:
      url: http://localhost:8080
`)

	cfg, err := LoadConfig("does-not-exist.yaml")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.Backends.Providers["ton"].URL)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadConfig_FileFromEnv(t *testing.T) {
	t.Setenv(EnvConfigFile, writeConfig(t, sampleYAML))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig("")
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "server:\n  port: 9000\n"))
	assert.ErrorContains(t, err, "backends")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Backends.Providers = map[string]upstream.ProviderConfig{"ton": {URL: "http://localhost:8080"}}
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"ratelimit without redis", func(c *Config) { c.RateLimit.Enabled = true }},
		{"ratelimit strategy", func(c *Config) {
			c.Redis.Enabled = true
			c.RateLimit.Enabled = true
			c.RateLimit.Strategy = "user"
		}},
		{"events without url", func(c *Config) {
			c.Events.Enabled = true
			c.Events.URL = ""
		}},
		{"no workers", func(c *Config) { c.Workers.Size = 0 }},
		{"unknown preferred backend", func(c *Config) { c.Backends.Preferred = "other" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
