// Package config loads Nomai's engine configuration from an optional YAML
// file layered under environment-variable overrides, the same precedence
// order the teacher platform uses for its services.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EngineConfig controls the tick orchestrator.
type EngineConfig struct {
	FixedDTMillis   int  `yaml:"fixed_dt_millis" env:"ENGINE_FIXED_DT_MILLIS"`
	HistoryWindow   int  `yaml:"history_window" env:"ENGINE_HISTORY_WINDOW"`
	Headless        bool `yaml:"headless" env:"ENGINE_HEADLESS"`
}

// SandboxConfig controls the script sandbox (C7).
type SandboxConfig struct {
	FuelBudget             int64 `yaml:"fuel_budget" env:"SANDBOX_FUEL_BUDGET"`
	MemoryLimitBytes       int64 `yaml:"memory_limit_bytes" env:"SANDBOX_MEMORY_LIMIT_BYTES"`
	SwapTimeoutMillis      int   `yaml:"swap_timeout_millis" env:"SANDBOX_SWAP_TIMEOUT_MILLIS"`
	WallClockTimeoutMillis int   `yaml:"wall_clock_timeout_millis" env:"SANDBOX_WALL_CLOCK_TIMEOUT_MILLIS"`
}

// PhysicsConfig controls the physics adapter (C6).
type PhysicsConfig struct {
	GravityX          float64 `yaml:"gravity_x" env:"PHYSICS_GRAVITY_X"`
	GravityY          float64 `yaml:"gravity_y" env:"PHYSICS_GRAVITY_Y"`
	SolverIterations  int     `yaml:"solver_iterations" env:"PHYSICS_SOLVER_ITERATIONS"`
}

// ServerConfig controls the command-surface HTTP API.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// DatabaseConfig controls the optional Postgres manifest-history overflow store.
type DatabaseConfig struct {
	DSN            string `yaml:"dsn" env:"DATABASE_DSN"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// CacheConfig controls the optional Redis-backed query-cache mirror.
type CacheConfig struct {
	RedisAddr string `yaml:"redis_addr" env:"CACHE_REDIS_ADDR"`
}

// Config is the top-level configuration structure.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Physics  PhysicsConfig  `yaml:"physics"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
}

// New returns a configuration populated with defaults matching spec.md's
// documented defaults (fixed_dt=1/60s, fuel budget ~1M, memory cap 16MiB).
func New() *Config {
	return &Config{
		Engine: EngineConfig{
			FixedDTMillis: 16, // ~1/60s
			HistoryWindow: 300,
			Headless:      true,
		},
		Sandbox: SandboxConfig{
			FuelBudget:             1_000_000,
			MemoryLimitBytes:       16 << 20,
			SwapTimeoutMillis:      100,
			WallClockTimeoutMillis: 50,
		},
		Physics: PhysicsConfig{
			GravityX:         0,
			GravityY:         0,
			SolverIterations: 8,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8089,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "nomai",
		},
		Database: DatabaseConfig{
			MigrateOnStart: true,
		},
	}
}

// Load loads configuration from an optional YAML file and environment
// variable overrides (env wins), mirroring the teacher's pkg/config.Load.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/nomai.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// FixedDT returns the configured fixed timestep as a float64 seconds value.
func (c EngineConfig) FixedDT() float64 {
	if c.FixedDTMillis <= 0 {
		return 1.0 / 60.0
	}
	return float64(c.FixedDTMillis) / 1000.0
}
