// Package realtime tracks the live viewer channel for each test execution.
package realtime

import (
	"context"
	"sync"

	"devqa/api/internal/logging"
)

// Channel is the write side of one live viewer connection. Implementations
// serialize their own writes.
type Channel interface {
	WriteJSON(v any) error
}

// Registry maps an execution id to at most one channel.
type Registry struct {
	mu       sync.Mutex
	channels map[string]Channel
	logger   logging.Logger
}

func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		channels: map[string]Channel{},
		logger:   logger,
	}
}

// Register stores ch under id. An existing channel is replaced, not closed.
func (r *Registry) Register(id string, ch Channel) {
	r.mu.Lock()
	r.channels[id] = ch
	r.mu.Unlock()
}

// Unregister removes id only while ch is still the registered channel, so a
// stale session cannot evict its replacement.
func (r *Registry) Unregister(id string, ch Channel) {
	r.mu.Lock()
	if current, ok := r.channels[id]; ok && current == ch {
		delete(r.channels, id)
	}
	r.mu.Unlock()
}

// Deliver sends msg to the channel registered for id. Missing channels and
// write errors are dropped.
func (r *Registry) Deliver(ctx context.Context, id string, msg any) {
	r.mu.Lock()
	ch, ok := r.channels[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := ch.WriteJSON(msg); err != nil {
		r.logger.Warn(ctx, "realtime delivery dropped", "execution_id", id, "error", err)
	}
}

// Len reports the number of registered channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
