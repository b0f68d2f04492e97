// Package config loads the settings of the tinyrpc command from YAML, with
// environment overrides applied on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Registry  RegistryConfig  `yaml:"registry"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	Advertise       string        `yaml:"advertise"` // routable address put in the registry
	Weight          int           `yaml:"weight"`
	TTL             int64         `yaml:"ttl"` // registry lease, seconds
	Timeout         time.Duration `yaml:"timeout"`
	Retries         int           `yaml:"retries"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MetricsListen   string        `yaml:"metricsListen"` // empty disables /metrics
}

type ClientConfig struct {
	Codec       string        `yaml:"codec"`
	Balancer    string        `yaml:"balancer"`
	PoolSize    int           `yaml:"poolSize"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	CallTimeout time.Duration `yaml:"callTimeout"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
}

type RegistryConfig struct {
	// Type is "etcd" or "memory". Empty picks etcd when endpoints are set.
	Type      string   `yaml:"type"`
	Endpoints []string `yaml:"endpoints"`
}

// RateLimitConfig limits calls handled by a server. RPS of zero disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:9090",
			Weight:          1,
			TTL:             10,
			Timeout:         5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Client: ClientConfig{
			Codec:       "json",
			Balancer:    "round_robin",
			PoolSize:    4,
			DialTimeout: 3 * time.Second,
			CallTimeout: 5 * time.Second,
			Heartbeat:   30 * time.Second,
		},
		RateLimit: RateLimitConfig{Burst: 1},
		Log:       LogConfig{Level: "info"},
	}
}

// LoadFromPath reads the YAML file at path over the defaults and applies the
// environment overrides. An empty path skips the file.
func LoadFromPath(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnvOverrides applies the TINYRPC_* variables. Unset or blank variables
// leave the value alone.
func ApplyEnvOverrides(cfg *Config) error {
	if v := env("TINYRPC_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := env("TINYRPC_ADVERTISE"); v != "" {
		cfg.Server.Advertise = v
	}
	if v := env("TINYRPC_ETCD_ENDPOINTS"); v != "" {
		cfg.Registry.Endpoints = splitList(v)
	}
	if v := env("TINYRPC_CODEC"); v != "" {
		cfg.Client.Codec = v
	}
	if v := env("TINYRPC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := env("TINYRPC_RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: TINYRPC_RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimit.RPS = rps
	}
	if v := env("TINYRPC_RATE_LIMIT_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: TINYRPC_RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimit.Burst = burst
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Weight < 0 {
		errs = append(errs, errors.New("server.weight must not be negative"))
	}
	if c.Server.TTL <= 0 {
		errs = append(errs, errors.New("server.ttl must be positive"))
	}
	if c.Client.PoolSize <= 0 {
		errs = append(errs, errors.New("client.poolSize must be positive"))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("rateLimit.rps must not be negative"))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rateLimit.burst must be positive"))
	}
	switch c.Registry.Type {
	case "", "memory":
	case "etcd":
		if len(c.Registry.Endpoints) == 0 {
			errs = append(errs, errors.New("registry.endpoints required for etcd"))
		}
	default:
		errs = append(errs, fmt.Errorf("registry.type %q unknown", c.Registry.Type))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// UseEtcd reports whether the registry is etcd-backed.
func (c RegistryConfig) UseEtcd() bool {
	return c.Type == "etcd" || (c.Type == "" && len(c.Endpoints) > 0)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
