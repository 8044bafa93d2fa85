package pid

import "testing"

func TestUpdate_ClampsToOutputMax(t *testing.T) {
	c := Defaults()
	c.OutputMax = 16
	// measured far below setpoint -> large positive error -> output saturates high
	got := c.Update(0, 1000)
	if got > c.OutputMax {
		t.Fatalf("Update() = %d, exceeds OutputMax %d", got, c.OutputMax)
	}
}

func TestUpdate_ClampsToOutputMin(t *testing.T) {
	c := Defaults()
	c.OutputMax = 16
	// measured far above setpoint -> large negative error -> output saturates low
	got := c.Update(500, 1000)
	if got < c.OutputMin {
		t.Fatalf("Update() = %d, below OutputMin %d", got, c.OutputMin)
	}
}

func TestUpdate_AtSetpointHoldsNearZeroIntegral(t *testing.T) {
	c := Defaults()
	c.OutputMax = 16
	c.OutputMin = 1
	first := c.Update(90, 1000)
	second := c.Update(90, 2000)
	if first < c.OutputMin || second < c.OutputMin {
		t.Fatalf("expected clamped outputs >= OutputMin, got %d, %d", first, second)
	}
	if c.integral != 0 {
		t.Fatalf("integral = %v, want 0 with zero error at the setpoint", c.integral)
	}
}

func TestUpdate_FirstCallUsesUnitDt(t *testing.T) {
	c := Defaults()
	c.OutputMax = 100
	// lastTime unset -> dt defaults to 1s per spec.md §4.4 step 2.
	out := c.Update(80, 5000)
	if out < c.OutputMin {
		t.Fatalf("Update() = %d, below OutputMin", out)
	}
	// e=10, dt=1: 0.5*10 + 0.05*10 + 0.1*10 = 6.5, rounded to 7.
	if out != 7 {
		t.Fatalf("Update() = %d, want 7 with dt=1", out)
	}
}

func TestReset_ClearsIntegral(t *testing.T) {
	c := Defaults()
	c.OutputMax = 100
	c.Update(10, 1000)
	c.Update(10, 2000)
	c.Reset()
	if c.integral != 0 || c.lastError != 0 || c.lastTime != 0 {
		t.Fatalf("Reset() did not clear state: %+v", c)
	}
}
