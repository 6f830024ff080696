// Package middleware provides the gateway's request interceptor chain and
// HTTP server middleware.
package middleware

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

// Handler inspects or transforms a request before dispatch. It returns the
// (possibly replaced) request to hand to the next interceptor, or an error
// that aborts the chain.
type Handler func(ctx context.Context, r *http.Request) (*http.Request, error)

// Middleware is one named interceptor in the chain.
type Middleware struct {
	// Name identifies the middleware for listing and debugging. Uniqueness
	// is not required for correctness.
	Name string

	// Priority orders execution: lower numbers run earlier. Ties keep
	// insertion order.
	Priority int

	// Handler is the interceptor function.
	Handler Handler
}

// Chain is an ordered list of interceptors. Mutations happen at startup or
// registration time; dispatch reads a copy-on-write snapshot so concurrent
// requests never contend on a lock.
type Chain struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]Middleware]
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	c := &Chain{}
	empty := make([]Middleware, 0)
	c.snapshot.Store(&empty)
	return c
}

// Add appends a middleware and re-sorts the chain ascending by priority.
// The sort is stable, so equal priorities keep their registration order.
func (c *Chain) Add(mw Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := *c.snapshot.Load()
	next := make([]Middleware, len(current), len(current)+1)
	copy(next, current)
	next = append(next, mw)

	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Priority < next[j].Priority
	})

	c.snapshot.Store(&next)
}

// Middlewares returns the chain in execution order.
func (c *Chain) Middlewares() []Middleware {
	snapshot := *c.snapshot.Load()
	out := make([]Middleware, len(snapshot))
	copy(out, snapshot)
	return out
}

// Names returns the middleware names in execution order.
func (c *Chain) Names() []string {
	snapshot := *c.snapshot.Load()
	names := make([]string, len(snapshot))
	for i, mw := range snapshot {
		names[i] = mw.Name
	}
	return names
}

// Len returns the number of registered middlewares.
func (c *Chain) Len() int {
	return len(*c.snapshot.Load())
}

// Run folds the chain left to right, feeding each handler's output request
// into the next. The first error aborts the chain and propagates to the
// caller; the request returned alongside an error is the last good one.
func (c *Chain) Run(ctx context.Context, r *http.Request) (*http.Request, error) {
	for _, mw := range *c.snapshot.Load() {
		next, err := mw.Handler(ctx, r)
		if err != nil {
			return r, err
		}
		if next != nil {
			r = next
		}
	}
	return r, nil
}
