package upstream

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/lk2023060901/nanami/internal/pkg/minio"
)

// Type selects a provider implementation
type Type string

const (
	TypeHTTP  Type = "http"
	TypeMinIO Type = "minio"
)

const (
	minMinIOChunkSize     = 5 << 20
	defaultMinIOChunkSize = 8 << 20
)

// ProviderConfig configures one backend
type ProviderConfig struct {
	Type Type `mapstructure:"type"`

	// http
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"` // 0 disables the client timeout

	// minio
	MinIO     minio.Config `mapstructure:"minio"`
	ChunkSize int          `mapstructure:"chunk_size"`
}

// Config configures the set of backends. Provider ids are the map keys.
type Config struct {
	Preferred string                    `mapstructure:"preferred"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// Validate validates the backend configuration
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("backends: at least one provider is required")
	}
	if c.Preferred != "" {
		if _, ok := c.Providers[c.Preferred]; !ok {
			return fmt.Errorf("backends: preferred provider %q is not configured", c.Preferred)
		}
	}
	for id, p := range c.Providers {
		if err := p.validate(); err != nil {
			return fmt.Errorf("backends: provider %q: %w", id, err)
		}
	}
	return nil
}

func (p *ProviderConfig) validate() error {
	switch p.Type {
	case TypeHTTP, "":
		u, err := url.Parse(p.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid url %q", p.URL)
		}
		if p.Timeout < 0 {
			return errors.New("timeout must be >= 0")
		}
	case TypeMinIO:
		if err := p.MinIO.Validate(); err != nil {
			return err
		}
		if p.ChunkSize != 0 && p.ChunkSize < minMinIOChunkSize {
			return fmt.Errorf("chunk_size must be at least %d", minMinIOChunkSize)
		}
	default:
		return fmt.Errorf("unsupported type %q", p.Type)
	}
	return nil
}
