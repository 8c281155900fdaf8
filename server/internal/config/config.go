package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Hop      HopConfig      `yaml:"hop"`
	Stream   StreamConfig   `yaml:"stream"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	CORS     CORSConfig     `yaml:"cors"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig 题库连接串。postgres:// 走 postgres 驱动，file:/.db/:memory: 走 sqlite。
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type SessionConfig struct {
	// Store 决定会话快照存储：memory | redis
	Store     string        `yaml:"store"`
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

// HopConfig 单次飞行训练的时钟参数。
type HopConfig struct {
	ClockSeconds    int `yaml:"clock_seconds"`
	SVFRCardSeconds int `yaml:"svfr_card_seconds"`
	// Seed 为 0 时按启动时间取种子。
	Seed uint64 `yaml:"seed"`
}

type StreamConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type LoggingConfig struct {
	Mode string `yaml:"mode"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // stdout | otlp
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
}

// Default 返回本地可跑的默认配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{DSN: "file:skytrail.db"},
		Session:  SessionConfig{Store: "memory", TTL: 2 * time.Hour},
		Hop: HopConfig{
			ClockSeconds:    600,
			SVFRCardSeconds: 10,
		},
		Stream: StreamConfig{
			TickInterval: time.Second,
			PingInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{Mode: "dev"},
		Tracing: TracingConfig{Exporter: "stdout", SampleRatio: 0.1, ServiceName: "skytrail"},
		CORS: CORSConfig{AllowOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		}},
	}
}

// Load 从文件加载配置，文件缺失的字段保留默认值，然后用环境变量覆盖。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		cfg.Session.RedisAddr = addr
		cfg.Session.Store = "redis"
	}
	if mode := strings.TrimSpace(os.Getenv("LOG_MODE")); mode != "" {
		cfg.Logging.Mode = mode
	}
	if raw := strings.TrimSpace(os.Getenv("SKYTRAIL_SEED")); raw != "" {
		if seed, err := strconv.ParseUint(raw, 10, 64); err == nil {
			cfg.Hop.Seed = seed
		}
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "otlp"
		cfg.Tracing.Endpoint = endpoint
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database dsn is required (set DATABASE_URL env var or config)")
	}
	if c.Hop.ClockSeconds <= 0 {
		return fmt.Errorf("hop.clock_seconds must be positive")
	}
	if c.Hop.SVFRCardSeconds <= 0 {
		return fmt.Errorf("hop.svfr_card_seconds must be positive")
	}
	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr is required when session.store is redis")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}
	switch c.Tracing.Exporter {
	case "", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown tracing exporter %q", c.Tracing.Exporter)
	}
	return nil
}

// Addr 返回 HTTP 监听地址。
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
