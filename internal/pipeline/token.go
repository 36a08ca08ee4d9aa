package pipeline

import "sync/atomic"

// CancelToken is a cooperative cancellation flag shared by the caller and one
// worker. The worker polls it between steps.
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken returns a token that is not cancelled.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel marks the token. It is safe to call more than once.
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}
