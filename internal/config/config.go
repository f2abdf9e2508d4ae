// config - источник загрузки конфигурации клиента маркетплейса и sandbox-бэкенда.
//
// Источники (по убыванию приоритета):
//  1. явный путь --config;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. только ENV (cleanenv).
//
// После чтения файла поверх значений YAML накладываются ENV-переменные.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Драйверы хранилища учётных данных.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	API      APIConfig      `yaml:"api"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
}

// APIConfig - REST-бэкенд и политика таймаутов клиента.
type APIConfig struct {
	BaseURL        string        `yaml:"base_url"        env:"API_BASE_URL"        env-default:"http://127.0.0.1:50090"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"API_REQUEST_TIMEOUT" env-default:"15s"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"API_REFRESH_TIMEOUT" env-default:"10s"`
	UserAgent      string        `yaml:"user_agent"      env:"API_USER_AGENT"      env-default:"marketplace-client"`
	LoginPath      string        `yaml:"login_path"      env:"API_LOGIN_PATH"      env-default:"/login"`
}

// RealtimeConfig - WebSocket-канал чата и уведомлений.
type RealtimeConfig struct {
	URL         string        `yaml:"url"          env:"REALTIME_URL"          env-default:"ws://127.0.0.1:50090/ws"`
	BaseDelay   time.Duration `yaml:"base_delay"   env:"REALTIME_BASE_DELAY"   env-default:"1s"`
	MaxAttempts int           `yaml:"max_attempts" env:"REALTIME_MAX_ATTEMPTS" env-default:"5"`
}

// StorageConfig - где живёт пара токенов.
type StorageConfig struct {
	Driver   string `yaml:"driver"    env:"STORAGE_DRIVER"    env-default:"file"`
	Path     string `yaml:"path"      env:"STORAGE_PATH"      env-default:".marketplace/credentials.json"`
	RedisURL string `yaml:"redis_url" env:"STORAGE_REDIS_URL"`
	Prefix   string `yaml:"prefix"    env:"STORAGE_PREFIX"    env-default:"market:session:"`
	Session  string `yaml:"session"   env:"STORAGE_SESSION"   env-default:"default"`
}

// MetricsConfig - отдельный HTTP для Prometheus.
// Enabled включает /metrics на время долгоживущих команд (chat listen).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED" env-default:"false"`
	Host    string `yaml:"host"    env:"METRICS_HOST"    env-default:"0.0.0.0"`
	Port    string `yaml:"port"    env:"METRICS_PORT"    env-default:"50085"`
}

func (m MetricsConfig) Addr() string { return net.JoinHostPort(m.Host, m.Port) }

// SandboxConfig - локальный бэкенд для разработки и e2e-тестов.
type SandboxConfig struct {
	Host       string        `yaml:"host"        env:"SANDBOX_HOST"        env-default:"0.0.0.0"`
	Port       string        `yaml:"port"        env:"SANDBOX_PORT"        env-default:"50090"`
	JWTSecret  string        `yaml:"jwt_secret"  env:"SANDBOX_JWT_SECRET"  env-default:"sandbox-secret"`
	AccessTTL  time.Duration `yaml:"access_ttl"  env:"SANDBOX_ACCESS_TTL"  env-default:"15m"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"SANDBOX_REFRESH_TTL" env-default:"720h"`
	Timeout    time.Duration `yaml:"timeout"     env:"SANDBOX_TIMEOUT"     env-default:"15s"`
}

func (s SandboxConfig) Addr() string { return net.JoinHostPort(s.Host, s.Port) }

// Validate проверяет значения, которые cleanenv проверить не может.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageFile:
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for driver %q", StorageRedis)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Realtime.MaxAttempts < 0 {
		return fmt.Errorf("realtime.max_attempts must be >= 0")
	}

	return nil
}

// MustLoad - паника при ошибке загрузки.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return validated(&cfg)
	}

	// 1) --config
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml
	if _, err := os.Stat("local.yaml"); err == nil {
		if err := cleanenv.ReadConfig("local.yaml", &cfg); err != nil {
			return nil, fmt.Errorf("failed to read local.yaml: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return validated(&cfg)
	}

	// 4) только ENV
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return validated(&cfg)
}

func validated(cfg *Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
