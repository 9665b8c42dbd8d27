package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lk2023060901/nanami/internal/pkg/database"
	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/lk2023060901/nanami/internal/pkg/mq"
	"github.com/lk2023060901/nanami/internal/pkg/redis"
	"github.com/lk2023060901/nanami/internal/pkg/upstream"
	"github.com/lk2023060901/nanami/internal/pkg/workerpool"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. NANAMI_SERVER_PORT
	EnvPrefix = "NANAMI"
	// EnvConfig holds the whole YAML configuration inline
	EnvConfig = "NANAMI_CONFIG"
	// EnvConfigFile overrides the configuration file path
	EnvConfigFile = "NANAMI_CONFIG_FILE"
)

type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Database  database.Config   `mapstructure:"database"`
	Redis     redis.Config      `mapstructure:"redis"`
	Log       logger.Config     `mapstructure:"log"`
	Backends  upstream.Config   `mapstructure:"backends"`
	RateLimit RateLimitConfig   `mapstructure:"ratelimit"`
	CORS      CORSConfig        `mapstructure:"cors"`
	Events    mq.Config         `mapstructure:"events"`
	Workers   workerpool.Config `mapstructure:"workers"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"` // 0 for large downloads
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type RateLimitConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxRequests   int    `mapstructure:"max_requests"`
	WindowSeconds int    `mapstructure:"window_seconds"`
	Strategy      string `mapstructure:"strategy"` // ip, global
}

// Window returns the sliding window length
func (r *RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

type CORSConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Default returns the configuration used for keys absent from the file
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: *database.DefaultConfig(),
		Redis:    *redis.DefaultConfig(),
		Log:      *logger.DefaultConfig(),
		RateLimit: RateLimitConfig{
			MaxRequests:   100,
			WindowSeconds: 1,
			Strategy:      "ip",
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
		},
		Events:  *mq.DefaultConfig(),
		Workers: *workerpool.DefaultConfig(),
	}
}

// envKeys are bound explicitly so they can be set from the environment even
// when the file does not mention them
var envKeys = []string{
	"server.host", "server.port",
	"database.host", "database.port", "database.user", "database.password",
	"database.dbname", "database.sslmode", "database.automigrate",
	"redis.enabled", "redis.addrs", "redis.password",
	"log.level", "log.format", "log.output",
	"backends.preferred",
	"ratelimit.enabled", "ratelimit.max_requests", "ratelimit.window_seconds",
	"events.enabled", "events.url", "events.exchange",
}

// LoadConfig loads the configuration. The YAML document is taken from
// NANAMI_CONFIG when set, otherwise from NANAMI_CONFIG_FILE or path. A .env
// file in the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	switch {
	case os.Getenv(EnvConfig) != "":
		if err := v.ReadConfig(strings.NewReader(os.Getenv(EnvConfig))); err != nil {
			return nil, fmt.Errorf("failed to read config from %s: %w", EnvConfig, err)
		}
	default:
		if p := os.Getenv(EnvConfigFile); p != "" {
			path = p
		}
		if path == "" {
			return nil, fmt.Errorf("no configuration provided: set %s or %s", EnvConfig, EnvConfigFile)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	config := Default()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate validates every section
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server: port must be between 1 and 65535")
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if c.Redis.Enabled {
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Backends.Validate(); err != nil {
		return err
	}
	if c.RateLimit.Enabled {
		if !c.Redis.Enabled {
			return errors.New("ratelimit: requires redis.enabled")
		}
		if c.RateLimit.MaxRequests <= 0 || c.RateLimit.WindowSeconds <= 0 {
			return errors.New("ratelimit: max_requests and window_seconds must be > 0")
		}
		switch c.RateLimit.Strategy {
		case "ip", "global":
		default:
			return fmt.Errorf("ratelimit: unsupported strategy %q", c.RateLimit.Strategy)
		}
	}
	if err := c.Events.Validate(); err != nil {
		return err
	}
	if c.Workers.Size <= 0 {
		return errors.New("workers: size must be > 0")
	}
	return nil
}
