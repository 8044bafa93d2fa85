// Package main implements threadctl-demo, a standalone harness that
// drives a Controller against a synthetic oscillating thermal load and a
// synthetic bursty workload, printing scaling decisions as they happen.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/threadctl/threadctl"
	"github.com/threadctl/threadctl/internal/admission"
	"github.com/threadctl/threadctl/internal/telemetry"
)

// Config holds command-line configuration.
type Config struct {
	Duration        time.Duration
	IntervalMs      int
	BaseCPU         float64
	AmpCPU          float64
	BaseTemp        float64
	AmpTemp         float64
	OpRatePerSec    float64
	OpDurationMs    int
	MaxThreads      int
	ArtifactPath    string
}

// Report is the JSON summary written at the end of the run.
type Report struct {
	StartedAt       time.Time                 `json:"started_at"`
	EndedAt         time.Time                 `json:"ended_at"`
	DurationSeconds float64                   `json:"duration_s"`
	OpsSubmitted    int64                     `json:"ops_submitted"`
	OpsCompleted    int64                     `json:"ops_completed"`
	OpsFailed       int64                     `json:"ops_failed"`
	FinalLimit      int                       `json:"final_limit"`
	ScalingHistory  []ScalingEvent            `json:"scaling_history"`
	UsageStats      map[string]float64        `json:"usage_stats"`
}

// ScalingEvent is one observed limit change.
type ScalingEvent struct {
	Time      time.Time `json:"time"`
	OldLimit  int       `json:"old_limit"`
	NewLimit  int       `json:"new_limit"`
}

func main() {
	cfg := parseFlags()

	var events []ScalingEvent
	var opsSubmitted, opsCompleted, opsFailed atomic.Int64

	src := telemetry.NewSyntheticSource(cfg.BaseCPU, cfg.BaseTemp, 40)
	src.Oscillate(cfg.BaseCPU, cfg.AmpCPU, cfg.BaseTemp, cfg.AmpTemp, 40)

	var maxThreads *int
	if cfg.MaxThreads > 0 {
		maxThreads = &cfg.MaxThreads
	}

	ctl, err := threadctl.New(threadctl.Options{
		MaxThreads:           maxThreads,
		MonitoringIntervalMs: cfg.IntervalMs,
		Telemetry:            src,
		OnScalingUpdate: func(newLimit, oldLimit int) {
			events = append(events, ScalingEvent{Time: time.Now(), OldLimit: oldLimit, NewLimit: newLimit})
			fmt.Printf("[%s] limit %d -> %d\n", time.Now().Format(time.RFC3339), oldLimit, newLimit)
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "threadctl-demo: construct controller: %v\n", err)
		os.Exit(1)
	}

	if err := ctl.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "threadctl-demo: initialize: %v\n", err)
		os.Exit(1)
	}

	started := time.Now()
	deadline := started.Add(cfg.Duration)
	opInterval := time.Duration(float64(time.Second) / cfg.OpRatePerSec)
	ticker := time.NewTicker(opInterval)
	defer ticker.Stop()

	opType := []string{"inference", "embedding", "batch"}

	for time.Now().Before(deadline) {
		<-ticker.C
		opsSubmitted.Add(1)
		kind := opType[rand.Intn(len(opType))]
		workMs := cfg.OpDurationMs/2 + rand.Intn(cfg.OpDurationMs)
		fut, err := threadctl.Execute(ctl, func(ctx context.Context) (int, error) {
			select {
			case <-time.After(time.Duration(workMs) * time.Millisecond):
				return workMs, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}, admission.SubmitOptions{OperationType: kind})
		if err != nil {
			opsFailed.Add(1)
			continue
		}
		go func() {
			if _, err := fut.Wait(context.Background()); err != nil {
				opsFailed.Add(1)
			} else {
				opsCompleted.Add(1)
			}
		}()
	}

	if err := ctl.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "threadctl-demo: shutdown: %v\n", err)
	}

	stats := ctl.UsageStatistics()
	report := Report{
		StartedAt:       started,
		EndedAt:         time.Now(),
		DurationSeconds: time.Since(started).Seconds(),
		OpsSubmitted:    opsSubmitted.Load(),
		OpsCompleted:    opsCompleted.Load(),
		OpsFailed:       opsFailed.Load(),
		FinalLimit:      ctl.State().QueueStats.Limit,
		ScalingHistory:  events,
		UsageStats: map[string]float64{
			"cpu_usage_avg": stats.Averages.CPUUsage.OrElse(0),
			"cpu_temp_avg":  stats.Averages.CPUTemp.OrElse(0),
			"data_points":   float64(stats.DataPoints),
		},
	}

	if err := writeReport(cfg.ArtifactPath, report); err != nil {
		fmt.Fprintf(os.Stderr, "threadctl-demo: write report: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\ndone: submitted=%d completed=%d failed=%d final_limit=%d scaling_events=%d\n",
		report.OpsSubmitted, report.OpsCompleted, report.OpsFailed, report.FinalLimit, len(events))
}

func parseFlags() Config {
	cfg := Config{}
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to run the demo")
	flag.IntVar(&cfg.IntervalMs, "interval-ms", 500, "supervisor tick interval")
	flag.Float64Var(&cfg.BaseCPU, "base-cpu", 50, "baseline synthetic CPU usage percent")
	flag.Float64Var(&cfg.AmpCPU, "amp-cpu", 35, "synthetic CPU usage sine amplitude")
	flag.Float64Var(&cfg.BaseTemp, "base-temp", 65, "baseline synthetic CPU temperature")
	flag.Float64Var(&cfg.AmpTemp, "amp-temp", 20, "synthetic CPU temperature sine amplitude")
	flag.Float64Var(&cfg.OpRatePerSec, "op-rate", 5, "synthetic operations submitted per second")
	flag.IntVar(&cfg.OpDurationMs, "op-duration-ms", 200, "synthetic operation duration in ms")
	flag.IntVar(&cfg.MaxThreads, "max-threads", 0, "hard concurrency ceiling (0 = autotune)")
	flag.StringVar(&cfg.ArtifactPath, "report", "./threadctl-demo-report.json", "where to write the run's JSON report")
	flag.Parse()
	return cfg
}

func writeReport(path string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
