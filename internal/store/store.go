// Package store implements the optional durable persistence backends for
// scaling decisions, usage history, and per-operation-type profiles
// (spec.md §6 "Persistent scaling store"). The controller always keeps
// running on the in-memory history rings even if no durable backend opens
// successfully.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/threadctl/threadctl/internal/history"
	"github.com/threadctl/threadctl/internal/telemetry"
)

// ErrPersistenceUnavailable wraps any failure to open a durable backend
// (spec.md §7). Callers should log once and continue on the in-memory
// history.Store rather than treat it as fatal.
var ErrPersistenceUnavailable = errors.New("store: persistence unavailable")

// OperationProfile is the aggregate row of the operation_profiles
// relation (spec.md §6), keyed by operation type.
type OperationProfile struct {
	OperationType string
	CPUAvg        float64
	GPUAvg        float64
	MemoryAvg     float64
	TemperatureAvg float64
	DurationAvg   float64
	Count         int64
	LastUpdated   time.Time
}

// UsageRow is one row of the usage_history relation.
type UsageRow struct {
	Timestamp         time.Time
	CPUUsage          telemetry.Optional[float64]
	CPUTemp           telemetry.Optional[float64]
	MemoryUsage       telemetry.Optional[float64]
	GPUUsage          telemetry.Optional[float64]
	GPUTemp           telemetry.Optional[float64]
	ConcurrentThreads int
	ActiveThreads     int
	QueuePressure     int
	OperationMix      string // JSON-encoded
	OperationIntensity float64
}

// ScalingRow is one row of the scaling_history relation.
type ScalingRow struct {
	Timestamp        time.Time
	ThreadCount       int
	CPUUsage          float64
	GPUUsage          float64
	MemoryUsage       float64
	Temperature       float64
	ActiveOperations  int
	QueueLength       int
	ScalingDecision   string
	PIDOutput         float64
	BayesOptimization float64
	DemandScore       float64
}

// Store is the durable persistence contract. It satisfies
// history.ScalingSink and adds the usage/operation-profile writes and
// age-based retention spec.md §6 requires.
type Store interface {
	history.ScalingSink
	PersistUsage(row UsageRow) error
	UpsertOperationProfile(opType string, cpu, gpu, mem, temp, duration float64) error
	PruneOlderThan(cutoff time.Time) error
	Close() error
}

// RichScalingSink is implemented by backends that can capture the full
// scaling_history fidelity (pid output, bayes score, demand score)
// beyond the narrower history.ScalingSink contract. Callers should type-
// assert for it and fall back to PersistScaling alone when absent.
type RichScalingSink interface {
	PersistScalingRow(row ScalingRow) error
}

// Config selects and configures a durable backend.
type Config struct {
	Backend string // "memory", "badger", or "sqlite"
	Path    string
}

// Open returns the configured backend. Per spec.md §6, failures to open a
// durable backend are never fatal — callers should fall back to an
// in-memory history.Store and log a single warning; Open itself returns
// the error so the caller can decide.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return newMemoryStore(), nil
	case "badger":
		s, err := openBadgerStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
		}
		return s, nil
	case "sqlite":
		s, err := openSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
