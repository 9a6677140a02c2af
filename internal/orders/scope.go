package orders

import (
	"context"
	"sync"

	"github.com/publisherauthority/orderdesk/internal/lifecycle"
)

// Scope is the lifetime of one consuming view. Callbacks guarded by a scope
// become no-ops once it is closed; requests already in flight still finish.
type Scope struct {
	mu     sync.RWMutex
	closed bool
}

func NewScope() *Scope {
	return &Scope{}
}

func (s *Scope) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Scope) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Guard wraps fn so it only runs while s is active.
func Guard[T any](s *Scope, fn func(T)) func(T) {
	return func(v T) {
		if fn == nil || !s.Active() {
			return
		}
		fn(v)
	}
}

type Outcome struct {
	Result *ActionResult
	Err    error
}

// PerformAsync runs the action in the background and delivers the outcome to
// done, unless scope was closed in the meantime. Independent orders may be
// acted on concurrently; nothing here is shared between calls.
func (c *Client) PerformAsync(ctx context.Context, scope *Scope, action lifecycle.Action, req ActionRequest, done func(Outcome)) {
	deliver := Guard(scope, done)
	if req.Refresh != nil {
		req.Refresh = Guard(scope, req.Refresh)
	}

	go func() {
		res, err := c.Perform(context.WithoutCancel(ctx), action, req)
		deliver(Outcome{Result: res, Err: err})
	}()
}
