package admission

import "sync"

// CancelToken lets a caller signal cancellation of a request independent of
// any timeout. It is safe to cancel multiple times or from multiple
// goroutines; only the first call has effect.
type CancelToken struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelToken returns a token in the not-canceled state.
func NewCancelToken() *CancelToken {
	return &CancelToken{ch: make(chan struct{})}
}

// Cancel signals cancellation. Idempotent.
func (c *CancelToken) Cancel() {
	c.once.Do(func() { close(c.ch) })
}

// Done returns a channel that is closed once Cancel has been called.
func (c *CancelToken) Done() <-chan struct{} {
	return c.ch
}
