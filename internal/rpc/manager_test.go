package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaolink/xiaolink/internal/protocol"
)

func TestAllocIDsStartAtOneAndIncrease(t *testing.T) {
	m := NewManager()
	id1, _ := m.Alloc()
	id2, _ := m.Alloc()
	require.Equal(t, uint32(1), id1)
	require.Equal(t, uint32(2), id2)
}

func TestFulfillDeliversResult(t *testing.T) {
	m := NewManager()
	id, ch := m.Alloc()

	want := protocol.CommandResult{Tag: protocol.ResPong, Pong: protocol.PongResult{TS: 42}}
	require.True(t, m.Fulfill(id, want))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := m.Wait(ctx, id, ch)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestFulfillUnknownIDReturnsFalse(t *testing.T) {
	m := NewManager()
	require.False(t, m.Fulfill(999, protocol.CommandResult{}))
}

func TestWaitTimesOutAndCleansUpPending(t *testing.T) {
	m := NewManager()
	id, ch := m.Alloc()
	require.Equal(t, 1, m.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Wait(ctx, id, ch)
	require.Error(t, err)
	require.Equal(t, 0, m.Pending())

	require.False(t, m.Fulfill(id, protocol.CommandResult{}))
}

func TestCancelAllFulfillsPendingWithError(t *testing.T) {
	m := NewManager()
	id, ch := m.Alloc()
	m.CancelAll()

	select {
	case result := <-ch:
		require.Equal(t, protocol.ResError, result.Tag)
	case <-time.After(time.Second):
		t.Fatal("expected cancellation result")
	}
	require.Equal(t, 0, m.Pending())
	_ = id
}
