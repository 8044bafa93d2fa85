package telemetry

import (
	"math"
	"sync"
	"time"
)

// SyntheticSource produces a deterministic, adjustable telemetry stream for
// tests and the demo CLI. It is safe for concurrent use.
type SyntheticSource struct {
	mu       sync.Mutex
	cpu      float64
	temp     float64
	mem      float64
	gpu      *float64
	gpuTemp  *float64
	tickFunc func(n int) (cpuUsage, cpuTemp, memUsage float64)
	n        int
}

// NewSyntheticSource returns a source fixed at the given readings.
func NewSyntheticSource(cpuUsage, cpuTemp, memUsage float64) *SyntheticSource {
	return &SyntheticSource{cpu: cpuUsage, temp: cpuTemp, mem: memUsage}
}

// SetCPU updates the reported CPU usage/temperature.
func (s *SyntheticSource) SetCPU(usage, tempC float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cpu = usage
	s.temp = tempC
}

// SetMem updates the reported memory usage percentage.
func (s *SyntheticSource) SetMem(usage float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem = usage
}

// SetGPU sets (or clears, with ok=false) the reported GPU reading.
func (s *SyntheticSource) SetGPU(usage, tempC float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		s.gpu, s.gpuTemp = nil, nil
		return
	}
	u, t := usage, tempC
	s.gpu, s.gpuTemp = &u, &t
}

// Oscillate configures a sine-wave CPU/temperature generator for the demo
// CLI: cpuUsage and cpuTemp walk a bounded sine curve driven by Sample calls.
func (s *SyntheticSource) Oscillate(baseCPU, ampCPU, baseTemp, ampTemp, baseMem float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickFunc = func(n int) (float64, float64, float64) {
		phase := float64(n) * 0.1
		return baseCPU + ampCPU*math.Sin(phase), baseTemp + ampTemp*math.Sin(phase), baseMem
	}
}

// Sample implements Source.
func (s *SyntheticSource) Sample() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tickFunc != nil {
		s.cpu, s.temp, s.mem = s.tickFunc(s.n)
		s.n++
	}

	out := Sample{
		Timestamp: time.Now(),
		CPUUsage:  Some(s.cpu),
		CPUTemp:   Some(s.temp),
		MemUsage:  Some(s.mem),
	}
	if s.gpu != nil {
		out.GPUUsage = Some(*s.gpu)
		out.GPUTemp = Some(*s.gpuTemp)
	}
	return out
}
