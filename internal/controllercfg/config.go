// Package controllercfg defines the controller's configuration struct
// and loading/hot-reload machinery (spec.md §6, §9 "dynamic configuration
// objects").
package controllercfg

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/threadctl/threadctl/internal/configenv"
)

// EmergencyLimits are the absolute ceilings that trigger the hard
// emergency clamp (spec.md §6).
type EmergencyLimits struct {
	CPUTemp     float64 `yaml:"cpuTemp"`
	CPUUsage    float64 `yaml:"cpuUsage"`
	MemoryUsage float64 `yaml:"memoryUsage"`
	GPUTemp     float64 `yaml:"gpuTemp"`
	GPUUsage    float64 `yaml:"gpuUsage"`
}

// HighThresholds are the "high but not yet emergency" ceilings the trend
// analyzer and reward calculator penalize against (spec.md §6).
type HighThresholds struct {
	CPUUsage    float64 `yaml:"cpuUsage"`
	CPUTemp     float64 `yaml:"cpuTemp"`
	MemoryUsage float64 `yaml:"memoryUsage"`
	GPUTemp     float64 `yaml:"gpuTemp"`
	GPUUsage    float64 `yaml:"gpuUsage"`
}

// PIDKnobs are the PID controller tuning constants (spec.md §6).
type PIDKnobs struct {
	Kp       float64 `yaml:"kp"`
	Ki       float64 `yaml:"ki"`
	Kd       float64 `yaml:"kd"`
	Setpoint float64 `yaml:"setpoint"`
}

// PersistenceConfig selects the optional durable scaling store.
type PersistenceConfig struct {
	Backend string `yaml:"backend,omitempty"` // "memory" (default), "badger", "sqlite"
	Path    string `yaml:"path,omitempty"`
}

// Config is the complete, validated set of recognized controller options
// (spec.md §6). Construction-time unknown YAML fields are a hard error —
// there is no open option bag.
type Config struct {
	MaxThreads *int `yaml:"maxThreads,omitempty"` // nil = autotune, no hard cap

	MonitoringIntervalMs int `yaml:"monitoringIntervalMs,omitempty"`

	MaxHistoryAgeMinutes int `yaml:"maxHistoryAgeMinutes,omitempty"`
	MaxDataPoints        int `yaml:"maxDataPoints,omitempty"`
	MaxHistorySize       int `yaml:"maxHistorySize,omitempty"`

	EmergencyAbsoluteLimits EmergencyLimits `yaml:"emergencyAbsoluteLimits,omitempty"`
	HighThresholds          HighThresholds  `yaml:"highThresholds,omitempty"`
	PID                     PIDKnobs        `yaml:"pid,omitempty"`

	ScaleCooldownMs              int     `yaml:"scaleCooldownMs,omitempty"`
	ScalingHistoryRetentionHours float64 `yaml:"scalingHistoryRetentionHours,omitempty"`

	Persistence PersistenceConfig `yaml:"persistence,omitempty"`
}

// Default returns the spec.md §6 documented defaults.
func Default() Config {
	return Config{
		MaxThreads:           nil,
		MonitoringIntervalMs: 1000,
		MaxHistoryAgeMinutes: 5,
		MaxDataPoints:        300,
		MaxHistorySize:       100,
		EmergencyAbsoluteLimits: EmergencyLimits{
			CPUTemp: 95, CPUUsage: 98, MemoryUsage: 95, GPUTemp: 95, GPUUsage: 98,
		},
		HighThresholds: HighThresholds{
			CPUUsage: 85, CPUTemp: 85, MemoryUsage: 85, GPUTemp: 85, GPUUsage: 85,
		},
		PID:                          PIDKnobs{Kp: 0.5, Ki: 0.05, Kd: 0.1, Setpoint: 90},
		ScaleCooldownMs:              10000,
		ScalingHistoryRetentionHours: 1.0 / 3.0,
		Persistence:                  PersistenceConfig{Backend: "memory"},
	}
}

// Validate checks that every field is within a sane range. An invalid
// config is a construction-time error, never a silently-coerced default
// except where spec.md §7 explicitly calls for coercion (updateLimit
// inputs, handled by the admission manager itself, not here).
func Validate(c Config) error {
	if c.MaxThreads != nil && *c.MaxThreads < 1 {
		return fmt.Errorf("controllercfg: maxThreads must be >= 1, got %d", *c.MaxThreads)
	}
	if c.MonitoringIntervalMs <= 0 {
		return fmt.Errorf("controllercfg: monitoringIntervalMs must be > 0, got %d", c.MonitoringIntervalMs)
	}
	if c.MaxHistoryAgeMinutes <= 0 {
		return fmt.Errorf("controllercfg: maxHistoryAgeMinutes must be > 0, got %d", c.MaxHistoryAgeMinutes)
	}
	if c.MaxDataPoints <= 0 {
		return fmt.Errorf("controllercfg: maxDataPoints must be > 0, got %d", c.MaxDataPoints)
	}
	if c.MaxHistorySize <= 0 {
		return fmt.Errorf("controllercfg: maxHistorySize must be > 0, got %d", c.MaxHistorySize)
	}
	if c.ScaleCooldownMs < 0 {
		return fmt.Errorf("controllercfg: scaleCooldownMs must be >= 0, got %d", c.ScaleCooldownMs)
	}
	if c.ScalingHistoryRetentionHours <= 0 || math.IsNaN(c.ScalingHistoryRetentionHours) {
		return fmt.Errorf("controllercfg: scalingHistoryRetentionHours must be > 0, got %v", c.ScalingHistoryRetentionHours)
	}
	switch c.Persistence.Backend {
	case "", "memory", "badger", "sqlite":
	default:
		return fmt.Errorf("controllercfg: unknown persistence backend %q", c.Persistence.Backend)
	}
	return nil
}

// LoadFile reads a YAML config file on top of Default(), rejecting any
// field not recognized by Config (spec.md §9: "unknown fields are a
// construction-time error").
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("controllercfg: read %q: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("controllercfg: parse %q: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Config{}, fmt.Errorf("controllercfg: %q contains multiple documents", path)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from THREADCTL_* environment variables layered
// on top of Default(), for callers that want functional defaults without
// a YAML file (spec.md §9's "dynamic configuration objects", generalized
// from the teacher's os.Getenv-based bootstrapping).
func FromEnv() (Config, error) {
	cfg := Default()

	if v := configenv.Int("THREADCTL_MAX_THREADS", 0); v > 0 {
		cfg.MaxThreads = &v
	}
	cfg.MonitoringIntervalMs = configenv.Int("THREADCTL_MONITORING_INTERVAL_MS", cfg.MonitoringIntervalMs)
	cfg.MaxHistoryAgeMinutes = configenv.Int("THREADCTL_MAX_HISTORY_AGE_MINUTES", cfg.MaxHistoryAgeMinutes)
	cfg.MaxDataPoints = configenv.Int("THREADCTL_MAX_DATA_POINTS", cfg.MaxDataPoints)
	cfg.MaxHistorySize = configenv.Int("THREADCTL_MAX_HISTORY_SIZE", cfg.MaxHistorySize)
	cfg.ScaleCooldownMs = configenv.Int("THREADCTL_SCALE_COOLDOWN_MS", cfg.ScaleCooldownMs)
	cfg.ScalingHistoryRetentionHours = configenv.Float("THREADCTL_SCALING_HISTORY_RETENTION_HOURS", cfg.ScalingHistoryRetentionHours)
	cfg.Persistence.Backend = configenv.String("THREADCTL_PERSISTENCE_BACKEND", cfg.Persistence.Backend)
	cfg.Persistence.Path = configenv.String("THREADCTL_PERSISTENCE_PATH", cfg.Persistence.Path)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
