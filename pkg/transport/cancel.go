package transport

import (
	"context"
)

// CancelToken is the cooperative cancellation signal of one stream or
// listener. Blocking operations observe it at their suspension points.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCancelToken returns an unfired token.
func NewCancelToken() *CancelToken {
	ctx, cancel := context.WithCancel(context.Background())
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Cancel fires the token. Further calls do nothing.
func (t *CancelToken) Cancel() {
	t.cancel()
}

// Cancelled reports whether the token has fired.
func (t *CancelToken) Cancelled() bool {
	return t.ctx.Err() != nil
}

// Done is closed when the token fires.
func (t *CancelToken) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Bind returns a context that ends when either ctx ends or the token fires.
// The returned stop func must be called to release it.
func (t *CancelToken) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.ctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
