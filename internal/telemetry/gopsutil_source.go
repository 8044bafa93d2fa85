package telemetry

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/threadctl/threadctl/internal/log"
)

// GPUSource yields a GPU utilization/temperature reading when a primary GPU
// controller is discoverable. It returns ok=false when no GPU is present,
// never a zero-valued sample.
type GPUSource interface {
	Sample(ctx context.Context) (usage, tempC float64, ok bool)
}

// HostSource is the production TelemetrySource backed by gopsutil. GPU is
// optional and nil by default (no GPU controller discovered).
type HostSource struct {
	GPU GPUSource
}

// NewHostSource constructs a HostSource with no GPU collaborator.
func NewHostSource() *HostSource {
	return &HostSource{}
}

// Sample implements Source. It never panics or returns an error: any
// individual probe failure degrades that field to absent.
func (h *HostSource) Sample() Sample {
	logger := log.WithComponent("telemetry")
	s := Sample{Timestamp: time.Now()}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUUsage = Some(pct[0])
	} else if err != nil {
		logger.Debug().Err(err).Msg("cpu usage unavailable")
	}

	if temp, ok := cpuTemperature(ctx); ok {
		s.CPUTemp = Some(temp)
	} else {
		logger.Debug().Msg("cpu temperature unavailable")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemUsage = Some(vm.UsedPercent)
	} else {
		logger.Debug().Err(err).Msg("memory usage unavailable")
	}

	if h.GPU != nil {
		if usage, tempC, ok := h.GPU.Sample(ctx); ok {
			s.GPUUsage = Some(usage)
			s.GPUTemp = Some(tempC)
		}
	}

	return s
}

// cpuTemperature is the arithmetic mean of the package sensor, per-core
// sensors, and the max sensor, over whichever are present (spec.md §4.1).
func cpuTemperature(ctx context.Context) (float64, bool) {
	sensors, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil || len(sensors) == 0 {
		return 0, false
	}

	var pkg, max float64
	var pkgOK, maxOK bool
	var cores []float64

	for _, s := range sensors {
		name := s.SensorKey
		switch {
		case containsAny(name, "package", "tctl", "tdie"):
			pkg = s.Temperature
			pkgOK = true
		case containsAny(name, "max"):
			max = s.Temperature
			maxOK = true
		case containsAny(name, "core"):
			cores = append(cores, s.Temperature)
		}
	}

	var sum float64
	var n int
	if pkgOK {
		sum += pkg
		n++
	}
	if len(cores) > 0 {
		var coreSum float64
		for _, c := range cores {
			coreSum += c
		}
		sum += coreSum / float64(len(cores))
		n++
	}
	if maxOK {
		sum += max
		n++
	}
	if n == 0 {
		// No recognized label: fall back to the mean of every reported sensor
		// rather than reporting absent outright.
		for _, s := range sensors {
			sum += s.Temperature
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
