// Package jitter implements the audio reordering/pacing structure from
// spec.md §4.10: an ordered-by-timestamp buffer that detects loss, drops
// late/duplicate packets, and adapts its target depth to observed jitter.
// Grounded on
// original_source/packages/client-v2/src/net/jitter_buffer.rs, carried over
// to Go's ordered-map idiom (a sorted-key slice, since Go has no BTreeMap)
// and gonum/stat for the standard-deviation calculation the original computes
// by hand.
package jitter

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/xiaolink/xiaolink/internal/protocol"
)

const (
	minDepthDefault     = 2
	maxDepthDefault     = 20
	targetDepthDefault  = 5
	adaptInterval       = 50
	maxTolerableDelayUs = 100_000 // 100ms
	delayWindowCap      = 100
)

// Stats mirrors spec.md §8's quantified counters.
type Stats struct {
	Received  uint64
	Lost      uint64
	Played    uint64
	Late      uint64
	Duplicate uint64
	BufferLen int
}

// Buffer is a single pipeline's jitter buffer. Not safe for concurrent use —
// spec.md §5 assigns one buffer per playback pipeline task.
type Buffer struct {
	entries map[uint64]protocol.AudioPacket // keyed by packet.Timestamp
	order   []uint64                         // sorted timestamps, lazily rebuilt

	expectedSeq    uint32
	haveFirst      bool
	lastPlayedTS   uint64
	havePlayed     bool

	delaySamples []float64
	adaptCount   int

	minDepth, maxDepth, targetDepth int

	stats Stats
}

// New returns a Buffer with spec.md §4.10's default bounds.
func New() *Buffer {
	return &Buffer{
		entries:     make(map[uint64]protocol.AudioPacket),
		minDepth:    minDepthDefault,
		maxDepth:    maxDepthDefault,
		targetDepth: targetDepthDefault,
	}
}

// Push inserts one received packet, observed at arrivalTS on the sender's
// synchronized clock (already clock-translated by the caller).
func (b *Buffer) Push(p protocol.AudioPacket, arrivalTS uint64) {
	if _, dup := b.entries[p.Timestamp]; dup {
		b.stats.Duplicate++
		return
	}

	if !b.haveFirst {
		b.expectedSeq = p.Seq + 1
		b.haveFirst = true
	} else {
		gap := p.Seq - b.expectedSeq // wrapping subtraction, matches the original
		if gap > 0 && gap < 1000 {
			b.stats.Lost += uint64(gap)
		}
		b.expectedSeq = p.Seq + 1
	}

	if b.havePlayed && p.Timestamp <= b.lastPlayedTS {
		b.stats.Late++
		return
	}
	if arrivalTS > p.Timestamp && arrivalTS-p.Timestamp > maxTolerableDelayUs {
		b.stats.Late++
		return
	}

	var delay float64
	if arrivalTS >= p.Timestamp {
		delay = float64(arrivalTS - p.Timestamp)
	}
	b.recordDelay(delay)

	b.entries[p.Timestamp] = p
	b.insertSorted(p.Timestamp)
	b.stats.Received++
	b.stats.BufferLen = len(b.entries)

	b.adaptCount++
	if b.adaptCount >= adaptInterval {
		b.adapt()
		b.adaptCount = 0
	}
}

func (b *Buffer) insertSorted(ts uint64) {
	i := sort.Search(len(b.order), func(i int) bool { return b.order[i] >= ts })
	b.order = append(b.order, 0)
	copy(b.order[i+1:], b.order[i:])
	b.order[i] = ts
}

func (b *Buffer) recordDelay(delayUs float64) {
	b.delaySamples = append(b.delaySamples, delayUs)
	if len(b.delaySamples) > delayWindowCap {
		b.delaySamples = b.delaySamples[1:]
	}
}

// adapt recomputes targetDepth from the standard deviation of recent delay
// samples (spec.md §4.10, §9: "delay σ, not loss rate").
func (b *Buffer) adapt() {
	if len(b.delaySamples) < 2 {
		return
	}
	mean := stat.Mean(b.delaySamples, nil)
	sigma := stat.StdDev(b.delaySamples, nil)
	_ = mean

	switch {
	case sigma > 50_000:
		b.targetDepth += 2
	case sigma < 10_000:
		b.targetDepth--
	}
	if b.targetDepth < b.minDepth {
		b.targetDepth = b.minDepth
	}
	if b.targetDepth > b.maxDepth {
		b.targetDepth = b.maxDepth
	}
}

// Pop returns the earliest packet if the buffer holds enough packets (or is
// draining) and that packet's timestamp has come due on the remote clock
// timeline (nowRemote). Packets are returned in strictly increasing
// timestamp order (spec.md §8 quantified invariant).
func (b *Buffer) Pop(nowRemote uint64) (protocol.AudioPacket, bool) {
	if len(b.order) == 0 {
		return protocol.AudioPacket{}, false
	}
	draining := len(b.entries) >= b.minDepth
	if len(b.entries) < b.targetDepth && !draining {
		return protocol.AudioPacket{}, false
	}

	earliest := b.order[0]
	if earliest > nowRemote {
		return protocol.AudioPacket{}, false
	}

	p := b.entries[earliest]
	delete(b.entries, earliest)
	b.order = b.order[1:]
	b.lastPlayedTS = earliest
	b.havePlayed = true
	b.stats.Played++
	b.stats.BufferLen = len(b.entries)
	return p, true
}

// Len returns the number of packets currently buffered.
func (b *Buffer) Len() int { return len(b.entries) }

// Stats returns a snapshot of the buffer's counters.
func (b *Buffer) Stats() Stats { return b.stats }

// TargetDepth returns the current adaptive target depth.
func (b *Buffer) TargetDepth() int { return b.targetDepth }
