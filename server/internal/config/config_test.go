package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadAppliesEnvOverrides 验证环境变量覆盖文件配置。
// 场景：文件里写 sqlite DSN，DATABASE_URL 与 REDIS_ADDR 覆盖后生效。
func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  dsn: file:local.db\nhop:\n  clock_seconds: 300\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/skytrail")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SKYTRAIL_SEED", "42")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Database.DSN != "postgres://u:p@localhost:5432/skytrail" {
		t.Fatalf("expected env dsn, got %q", cfg.Database.DSN)
	}
	if cfg.Session.Store != "redis" || cfg.Session.RedisAddr != "localhost:6379" {
		t.Fatalf("expected redis session store, got %q %q", cfg.Session.Store, cfg.Session.RedisAddr)
	}
	if cfg.Hop.ClockSeconds != 300 {
		t.Fatalf("expected clock 300 from file, got %d", cfg.Hop.ClockSeconds)
	}
	if cfg.Hop.SVFRCardSeconds != 10 {
		t.Fatalf("expected default svfr card seconds 10, got %d", cfg.Hop.SVFRCardSeconds)
	}
	if cfg.Hop.Seed != 42 {
		t.Fatalf("expected seed 42, got %d", cfg.Hop.Seed)
	}
}

// TestValidateRejectsBadValues 验证非法配置被拒绝。
func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"zero clock", func(c *Config) { c.Hop.ClockSeconds = 0 }},
		{"unknown store", func(c *Config) { c.Session.Store = "etcd" }},
		{"redis without addr", func(c *Config) { c.Session.Store = "redis"; c.Session.RedisAddr = "" }},
		{"unknown exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
