package redis

import (
	"errors"
	"fmt"
	"time"
)

// DeployMode Redis 部署模式
type DeployMode string

const (
	ModeSingle   DeployMode = "single"   // 单机模式
	ModeSentinel DeployMode = "sentinel" // 哨兵模式
	ModeCluster  DeployMode = "cluster"  // 集群模式
)

// Config Redis 配置
type Config struct {
	Enabled bool       `mapstructure:"enabled"`
	Mode    DeployMode `mapstructure:"mode"`

	// 单机模式使用第一个地址；哨兵模式为哨兵地址；集群模式为节点地址
	Addrs      []string `mapstructure:"addrs"`
	MasterName string   `mapstructure:"master_name"` // 哨兵模式主节点名称

	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// 连接池配置
	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`

	// 超时配置
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	MaxRetries int `mapstructure:"max_retries"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:      false,
		Mode:         ModeSingle,
		Addrs:        []string{"localhost:6379"},
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if len(c.Addrs) == 0 {
		return errors.New("redis: at least one address is required")
	}
	switch c.Mode {
	case ModeSingle, ModeCluster:
	case ModeSentinel:
		if c.MasterName == "" {
			return errors.New("redis: master_name is required in sentinel mode")
		}
	default:
		return fmt.Errorf("redis: unsupported mode %q", c.Mode)
	}
	if c.Mode != ModeCluster && (c.DB < 0 || c.DB > 15) {
		return errors.New("redis: db must be between 0 and 15")
	}
	if c.PoolSize < 0 || c.MinIdleConns < 0 {
		return errors.New("redis: pool sizes must be >= 0")
	}
	return nil
}
