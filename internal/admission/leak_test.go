package admission

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no goroutine started by Submit/dispatch/Shutdown
// outlives the test suite (spec.md §5's scheduling model depends on the
// manager never leaking a dispatch or cancellation-watcher goroutine).
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
