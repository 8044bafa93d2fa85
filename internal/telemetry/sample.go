// Package telemetry defines the host-metrics probe contract used by the
// controller's sampler and its production gopsutil-backed implementation.
package telemetry

import "time"

// Optional represents a value that may be absent. Absent is distinct from
// the zero value: a sensor that could not be read must never be reported
// as 0% usage or 0°C.
type Optional[T any] struct {
	value T
	set   bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] { return Optional[T]{value: v, set: true} }

// None returns an absent value.
func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the wrapped value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.set }

// Present reports whether the value is set.
func (o Optional[T]) Present() bool { return o.set }

// OrElse returns the wrapped value, or fallback if absent.
func (o Optional[T]) OrElse(fallback T) T {
	if o.set {
		return o.value
	}
	return fallback
}

// Sample is a single telemetry reading. Any field may be absent.
type Sample struct {
	Timestamp time.Time
	CPUUsage  Optional[float64] // percent, 0-100
	CPUTemp   Optional[float64] // degrees Celsius
	MemUsage  Optional[float64] // percent, 0-100
	GPUUsage  Optional[float64] // percent, 0-100
	GPUTemp   Optional[float64] // degrees Celsius
}

// Source samples host telemetry on demand. Implementations must never
// panic or return an error for a partial read: missing sensors surface as
// an absent Optional field, and Sample.Timestamp is always set.
type Source interface {
	Sample() Sample
}
