package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/threadctl/threadctl/internal/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_history (
	ts INTEGER NOT NULL,
	cpu_usage REAL,
	cpu_temp REAL,
	memory_usage REAL,
	gpu_usage REAL,
	gpu_temp REAL,
	concurrent_threads INTEGER NOT NULL,
	active_threads INTEGER NOT NULL,
	queue_pressure INTEGER NOT NULL,
	operation_mix TEXT,
	operation_intensity REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_history_ts ON usage_history(ts);

CREATE TABLE IF NOT EXISTS scaling_history (
	ts INTEGER NOT NULL,
	thread_count INTEGER NOT NULL,
	cpu_usage REAL NOT NULL,
	gpu_usage REAL NOT NULL,
	memory_usage REAL NOT NULL,
	temperature REAL NOT NULL,
	active_operations INTEGER NOT NULL,
	queue_length INTEGER NOT NULL,
	scaling_decision TEXT NOT NULL,
	pid_output REAL NOT NULL,
	bayes_optimization REAL NOT NULL,
	demand_score REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scaling_history_ts ON scaling_history(ts);

CREATE TABLE IF NOT EXISTS operation_profiles (
	operation_type TEXT PRIMARY KEY,
	cpu_avg REAL NOT NULL,
	gpu_avg REAL NOT NULL,
	memory_avg REAL NOT NULL,
	temperature_avg REAL NOT NULL,
	duration_avg REAL NOT NULL,
	count INTEGER NOT NULL,
	last_updated INTEGER NOT NULL
);
`

// sqliteStore persists the three literal relations spec.md §6 names using
// the pure-Go modernc.org/sqlite driver (no cgo toolchain required).
type sqliteStore struct {
	db *sql.DB
}

func openSQLiteStore(path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite at %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite at %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) PersistScaling(d history.ScalingDecision) error {
	_, err := s.db.Exec(
		`INSERT INTO scaling_history
			(ts, thread_count, cpu_usage, gpu_usage, memory_usage, temperature,
			 active_operations, queue_length, scaling_decision, pid_output,
			 bayes_optimization, demand_score)
		 VALUES (?, ?, 0, 0, 0, 0, 0, 0, ?, 0, 0, 0)`,
		d.Timestamp.UnixMilli(), d.RecommendedThreads, d.Reason,
	)
	return err
}

// PersistScalingRow is the full-fidelity write used by callers that have
// the richer scaling_history columns available (pid output, bayes score,
// demand score); PersistScaling above satisfies the narrower
// history.ScalingSink contract with zeros for those columns.
func (s *sqliteStore) PersistScalingRow(row ScalingRow) error {
	_, err := s.db.Exec(
		`INSERT INTO scaling_history
			(ts, thread_count, cpu_usage, gpu_usage, memory_usage, temperature,
			 active_operations, queue_length, scaling_decision, pid_output,
			 bayes_optimization, demand_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Timestamp.UnixMilli(), row.ThreadCount, row.CPUUsage, row.GPUUsage,
		row.MemoryUsage, row.Temperature, row.ActiveOperations, row.QueueLength,
		row.ScalingDecision, row.PIDOutput, row.BayesOptimization, row.DemandScore,
	)
	return err
}

func (s *sqliteStore) PersistUsage(row UsageRow) error {
	cpuUsage, _ := row.CPUUsage.Get()
	cpuTemp, _ := row.CPUTemp.Get()
	memUsage, _ := row.MemoryUsage.Get()
	gpuUsage, hasGPU := row.GPUUsage.Get()
	gpuTemp, hasGPUTemp := row.GPUTemp.Get()

	var gpuUsageVal, gpuTempVal any
	if hasGPU {
		gpuUsageVal = gpuUsage
	}
	if hasGPUTemp {
		gpuTempVal = gpuTemp
	}

	_, err := s.db.Exec(
		`INSERT INTO usage_history
			(ts, cpu_usage, cpu_temp, memory_usage, gpu_usage, gpu_temp,
			 concurrent_threads, active_threads, queue_pressure, operation_mix,
			 operation_intensity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Timestamp.UnixMilli(), cpuUsage, cpuTemp, memUsage, gpuUsageVal, gpuTempVal,
		row.ConcurrentThreads, row.ActiveThreads, row.QueuePressure, row.OperationMix,
		row.OperationIntensity,
	)
	return err
}

func (s *sqliteStore) UpsertOperationProfile(opType string, cpu, gpu, mem, temp, duration float64) error {
	row := s.db.QueryRow(`SELECT cpu_avg, gpu_avg, memory_avg, temperature_avg, duration_avg, count FROM operation_profiles WHERE operation_type = ?`, opType)
	var p OperationProfile
	err := row.Scan(&p.CPUAvg, &p.GPUAvg, &p.MemoryAvg, &p.TemperatureAvg, &p.DurationAvg, &p.Count)
	if err == sql.ErrNoRows {
		p = OperationProfile{}
	} else if err != nil {
		return err
	}

	n := float64(p.Count)
	cpuAvg := runningAvg(p.CPUAvg, n, cpu)
	gpuAvg := runningAvg(p.GPUAvg, n, gpu)
	memAvg := runningAvg(p.MemoryAvg, n, mem)
	tempAvg := runningAvg(p.TemperatureAvg, n, temp)
	durAvg := runningAvg(p.DurationAvg, n, duration)
	count := p.Count + 1

	_, err = s.db.Exec(
		`INSERT INTO operation_profiles
			(operation_type, cpu_avg, gpu_avg, memory_avg, temperature_avg, duration_avg, count, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(operation_type) DO UPDATE SET
			cpu_avg=excluded.cpu_avg, gpu_avg=excluded.gpu_avg, memory_avg=excluded.memory_avg,
			temperature_avg=excluded.temperature_avg, duration_avg=excluded.duration_avg,
			count=excluded.count, last_updated=excluded.last_updated`,
		opType, cpuAvg, gpuAvg, memAvg, tempAvg, durAvg, count, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) PruneOlderThan(cutoff time.Time) error {
	cutoffMs := cutoff.UnixMilli()
	if _, err := s.db.Exec(`DELETE FROM usage_history WHERE ts < ?`, cutoffMs); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM scaling_history WHERE ts < ?`, cutoffMs); err != nil {
		return err
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }
