// Package clock implements the ping/pong clock-synchronization sub-protocol
// from spec.md §4.6: estimate the offset between a local and remote clock
// from round-trip timestamp samples, favoring the lowest-RTT sample seen.
package clock

import "sync"

// emaWeight is the exponential-moving-average weight applied to a fresh
// offset sample that doesn't improve on the minimum RTT (spec.md §4.6:
// "weight 1/8 on fresh samples").
const emaWeight = 1.0 / 8.0

// State holds one peer's offset estimate. Safe for concurrent use.
type State struct {
	mu        sync.RWMutex
	offsetUs  float64 // remote - local, smoothed
	minRTTUs  int64
	haveSample bool
}

// New returns a State with no samples yet (offset 0 until the first Pong).
func New() *State {
	return &State{}
}

// Sample records one ping/pong round trip. t1 is the sender's local_now_us
// at send time (echoed in the Pong), t2 is the receiver's local_now_us when
// it received the Ping, t4 is this side's local_now_us upon receiving the
// Pong.
func (s *State) Sample(t1, t2, t4 int64) {
	offset := float64((t2-t1)+(t2-t4)) / 2
	rtt := t4 - t1
	if rtt < 0 {
		rtt = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.haveSample:
		s.offsetUs = offset
		s.minRTTUs = rtt
		s.haveSample = true
	case rtt < s.minRTTUs:
		// A new minimum-RTT sample replaces the estimate wholesale.
		s.offsetUs = offset
		s.minRTTUs = rtt
	default:
		s.offsetUs = s.offsetUs*(1-emaWeight) + offset*emaWeight
	}
}

// Offset returns the current smoothed offset estimate in microseconds
// (remote - local).
func (s *State) Offset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(s.offsetUs)
}

// MinRTT returns the minimum observed round-trip time in microseconds.
func (s *State) MinRTT() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minRTTUs
}

// ToRemote converts a local microsecond timestamp to the remote clock's
// timeline.
func (s *State) ToRemote(localUs int64) int64 {
	return localUs + s.Offset()
}

// ToLocal converts a remote microsecond timestamp to the local clock's
// timeline.
func (s *State) ToLocal(remoteUs int64) int64 {
	return remoteUs - s.Offset()
}
