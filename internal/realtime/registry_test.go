package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	mu   sync.Mutex
	msgs []any
	err  error
}

func (c *recordingChannel) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, v)
	return nil
}

func (c *recordingChannel) received() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.msgs...)
}

func TestDeliverReachesRegisteredChannel(t *testing.T) {
	r := NewRegistry(nil)
	ch := &recordingChannel{}
	r.Register("exec-1", ch)

	r.Deliver(context.Background(), "exec-1", map[string]string{"type": "update"})

	require.Len(t, ch.received(), 1)
	assert.Equal(t, map[string]string{"type": "update"}, ch.received()[0])
}

func TestDeliverWithoutChannelIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	assert.NotPanics(t, func() {
		r.Deliver(context.Background(), "missing", "hello")
	})
}

func TestRegisterReplacesWithoutClosing(t *testing.T) {
	r := NewRegistry(nil)
	first := &recordingChannel{}
	second := &recordingChannel{}
	r.Register("exec-1", first)
	r.Register("exec-1", second)

	r.Deliver(context.Background(), "exec-1", "msg")

	assert.Empty(t, first.received())
	assert.Len(t, second.received(), 1)
	assert.Equal(t, 1, r.Len())
}

func TestUnregisterIgnoresStaleChannel(t *testing.T) {
	r := NewRegistry(nil)
	stale := &recordingChannel{}
	current := &recordingChannel{}
	r.Register("exec-1", stale)
	r.Register("exec-1", current)

	r.Unregister("exec-1", stale)
	r.Deliver(context.Background(), "exec-1", "still here")
	assert.Len(t, current.received(), 1)

	r.Unregister("exec-1", current)
	assert.Equal(t, 0, r.Len())
}

func TestDeliverSwallowsWriteErrors(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("exec-1", &recordingChannel{err: errors.New("broken pipe")})

	assert.NotPanics(t, func() {
		r.Deliver(context.Background(), "exec-1", "msg")
	})
	assert.Equal(t, 1, r.Len())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("exec-%d", i%5)
			ch := &recordingChannel{}
			r.Register(id, ch)
			r.Deliver(context.Background(), id, i)
			r.Unregister(id, ch)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
