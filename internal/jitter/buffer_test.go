package jitter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xiaolink/xiaolink/internal/protocol"
)

func pkt(seq uint32, ts uint64) protocol.AudioPacket {
	return protocol.AudioPacket{Seq: seq, Timestamp: ts, Payload: []byte{0xAA}}
}

func TestPushPopOrdersByTimestamp(t *testing.T) {
	b := New()
	b.Push(pkt(1, 100), 0)
	b.Push(pkt(2, 300), 0)
	b.Push(pkt(3, 200), 0)

	var got []uint64
	for i := 0; i < 3; i++ {
		p, ok := b.Pop(10_000_000)
		require.True(t, ok)
		got = append(got, p.Timestamp)
	}
	require.Equal(t, []uint64{100, 200, 300}, got)
}

func TestPushDetectsGapLoss(t *testing.T) {
	b := New()
	b.Push(pkt(1, 100), 0)
	b.Push(pkt(5, 200), 0) // seq jumped 1->5, expect 3 lost
	require.Equal(t, uint64(3), b.Stats().Lost)
}

func TestPushDropsDuplicate(t *testing.T) {
	b := New()
	b.Push(pkt(1, 100), 0)
	b.Push(pkt(1, 100), 0)
	require.Equal(t, uint64(1), b.Stats().Duplicate)
	require.Equal(t, 1, b.Len())
}

func TestPushDropsLateAfterPlayed(t *testing.T) {
	b := New()
	for i := uint32(0); i < uint32(minDepthDefault); i++ {
		b.Push(pkt(i+1, uint64(i+1)*1000), 0)
	}
	_, ok := b.Pop(10_000_000)
	require.True(t, ok)

	b.Push(pkt(99, 500), 0) // timestamp before lastPlayedTS
	require.Equal(t, uint64(1), b.Stats().Late)
}

func TestPushDropsRetransmitAtExactlyLastPlayedTimestamp(t *testing.T) {
	b := New()
	for i := uint32(0); i < uint32(minDepthDefault); i++ {
		b.Push(pkt(i+1, uint64(i+1)*1000), 0)
	}
	played, ok := b.Pop(10_000_000)
	require.True(t, ok)

	// A retransmit carrying the same timestamp as the packet just played
	// (but a distinct, already-stale seq) must not be re-admitted.
	b.Push(pkt(999, played.Timestamp), 0)
	require.Equal(t, uint64(1), b.Stats().Late)
	require.Equal(t, minDepthDefault-1, b.Len())
}

func TestPopWithholdsUntilTargetDepth(t *testing.T) {
	b := New()
	b.Push(pkt(1, 1000), 0)
	_, ok := b.Pop(10_000_000)
	require.False(t, ok, "should withhold below target depth and below min depth drain threshold")
}

func TestPopWithholdsFutureTimestamp(t *testing.T) {
	b := New()
	for i := uint32(0); i < uint32(minDepthDefault); i++ {
		b.Push(pkt(i+1, uint64(i+1)*1000), 0)
	}
	_, ok := b.Pop(500) // earliest timestamp is 1000, not due yet
	require.False(t, ok)
}

func TestAdaptIncreasesTargetDepthOnHighJitter(t *testing.T) {
	b := New()
	for i := 0; i < adaptInterval; i++ {
		ts := uint64(i) * 1000
		arrival := ts
		if i%2 == 0 {
			arrival += maxTolerableDelayUs // alternating delay at the tolerable limit inflates stddev past 50ms
		}
		b.Push(pkt(uint32(i+1), ts), arrival)
	}
	require.Greater(t, b.TargetDepth(), targetDepthDefault)
}
