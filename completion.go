package agentrt

import (
	"context"
	"sync"
)

// Completion is resolved by an Agent when the InboxItem it was attached to
// finishes processing (its turn records an outgoing entry, or the item is
// otherwise fully handled). AgentSystem.PostAndWait hands one of these back
// to the caller.
type Completion struct {
	result    any
	err       error
	completed bool
	done      chan struct{}
	mu        sync.RWMutex
}

// NewCompletion creates an unresolved completion handle.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolve marks the completion finished with the given result.
// Calling it more than once is a no-op for the later calls.
func (c *Completion) Resolve(result any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		return
	}
	c.result = result
	c.err = err
	c.completed = true
	close(c.done)
}

// Cancel resolves the completion with ErrTimeout-adjacent cancellation,
// used when the agent stops (reset or shutdown) with items still pending.
func (c *Completion) Cancel(cause error) {
	c.Resolve(nil, cause)
}

// Await blocks until the completion resolves or ctx is done.
func (c *Completion) Await(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.result, c.err
	}
}

// Done reports whether the completion has resolved.
func (c *Completion) Done() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completed
}
