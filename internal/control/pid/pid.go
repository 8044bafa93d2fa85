// Package pid implements a scalar PID controller mapping a measured signal
// to a bounded integer output (spec.md §4.4).
package pid

import "math"

// Controller is a stateful scalar PID loop.
type Controller struct {
	Kp, Ki, Kd       float64
	Setpoint         float64
	OutputMin        int
	OutputMax        int

	integral  float64
	lastError float64
	lastTime  int64 // unix millis; 0 means unset
}

// Defaults matches spec.md §4.4's documented defaults.
func Defaults() Controller {
	return Controller{
		Kp:        0.5,
		Ki:        0.05,
		Kd:        0.1,
		Setpoint:  90,
		OutputMin: 1,
		OutputMax: math.MaxInt32,
	}
}

// Update advances the controller with a new measurement at time nowMillis
// (unix milliseconds) and returns the clamped integer output.
func (c *Controller) Update(measured float64, nowMillis int64) int {
	e := c.Setpoint - measured

	dt := 1.0
	if c.lastTime != 0 {
		dt = float64(nowMillis-c.lastTime) / 1000.0
		if dt < 0 {
			dt = 0
		}
	}

	c.integral += e * dt
	var derivative float64
	if dt > 0 {
		derivative = (e - c.lastError) / dt
	}

	out := c.Kp*e + c.Ki*c.integral + c.Kd*derivative
	rounded := int(math.Round(out))

	c.lastError = e
	c.lastTime = nowMillis

	return c.clamp(rounded)
}

func (c *Controller) clamp(v int) int {
	if v < c.OutputMin {
		return c.OutputMin
	}
	if v > c.OutputMax {
		return c.OutputMax
	}
	return v
}

// Reset clears accumulated integral/derivative state without changing
// tuning parameters.
func (c *Controller) Reset() {
	c.integral = 0
	c.lastError = 0
	c.lastTime = 0
}
