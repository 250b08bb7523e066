// Package rpc implements the request/response correlation layer over the
// control channel described in spec.md §4.4: each RpcRequest gets a
// monotonic id, and the caller blocks on a channel until a matching
// RpcResponse arrives, the context is cancelled, or a timeout fires.
// Grounded on original_source/packages/client-v2/src/net/rpc.rs's
// AtomicU32 id counter plus a mutex-guarded pending table.
package rpc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xiaolink/xiaolink/internal/protocol"
	"github.com/xiaolink/xiaolink/internal/xerr"
)

// Manager allocates RPC ids and fulfills or times out pending calls.
// Safe for concurrent use.
type Manager struct {
	nextID  uint32
	mu      sync.Mutex
	pending map[uint32]chan protocol.CommandResult
}

// NewManager returns a Manager whose first allocated id is 1 (0 is
// reserved, matching the original's convention).
func NewManager() *Manager {
	return &Manager{
		nextID:  0,
		pending: make(map[uint32]chan protocol.CommandResult),
	}
}

// Alloc reserves a fresh id and registers a result channel for it. The
// caller must eventually call Cancel(id) if it stops waiting without
// receiving on the returned channel.
func (m *Manager) Alloc() (uint32, <-chan protocol.CommandResult) {
	id := atomic.AddUint32(&m.nextID, 1)
	ch := make(chan protocol.CommandResult, 1)

	m.mu.Lock()
	m.pending[id] = ch
	m.mu.Unlock()

	return id, ch
}

// Fulfill delivers a result to the pending call with the given id. Returns
// false if no such call is pending (already timed out, cancelled, or
// duplicate response).
func (m *Manager) Fulfill(id uint32, result protocol.CommandResult) bool {
	m.mu.Lock()
	ch, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	ch <- result
	return true
}

// Cancel removes a pending call without delivering a result, for use when
// the caller gives up waiting (context cancellation or timeout).
func (m *Manager) Cancel(id uint32) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// Pending returns the number of calls currently awaiting a response.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Wait blocks on ch until a result arrives or ctx is cancelled, cleaning up
// the pending entry for id in either case.
func (m *Manager) Wait(ctx context.Context, id uint32, ch <-chan protocol.CommandResult) (protocol.CommandResult, error) {
	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		m.Cancel(id)
		return protocol.CommandResult{}, xerr.Wrap(xerr.KindTimeout, "rpc call did not complete before its deadline", ctx.Err())
	}
}

// CancelAll fulfills every pending call with a cancellation error result,
// for use when the owning connection is torn down.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[uint32]chan protocol.CommandResult)
	m.mu.Unlock()

	for _, ch := range pending {
		ch <- protocol.ErrResult(xerr.CodeInternal, "connection closed")
	}
}
