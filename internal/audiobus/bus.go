// Package audiobus implements spec.md §4.7's server-side audio routing: a
// single shared UDP socket, a broadcast channel of capacity 256 frames,
// and self-filtered fan-out to every registered subscriber except the
// frame's source. A recorder subscribes directly to persist frames.
package audiobus

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiaolink/xiaolink/internal/protocol"
	"github.com/xiaolink/xiaolink/internal/transport"
)

const broadcastCapacity = 256

// Frame is one routed audio packet, tagged with its source and a receipt
// timestamp (spec.md §4.7's AudioFrame entity).
type Frame struct {
	Packet      protocol.AudioPacket
	Source      *net.UDPAddr
	MonotonicTS int64 // local wall clock (time.Now().UnixMicro()), microseconds
}

// SubscriberLookup reports whether addr is a currently registered
// audio-endpoint subscriber, and if so returns every subscriber address
// to fan out to. Backed by session.Manager in the full wiring.
type SubscriberLookup interface {
	IsSubscriber(addr *net.UDPAddr) bool
	Subscribers() []*net.UDPAddr
}

// Bus owns the shared UDP socket and broadcast channel.
type Bus struct {
	audio   *transport.Audio
	lookup  SubscriberLookup
	log     *log.Logger
	frames  chan Frame

	mu          sync.Mutex
	recorderSubs []chan Frame
}

// New creates a Bus bound to audioSock, routing by lookup.
func New(audioSock *transport.Audio, lookup SubscriberLookup, logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		audio:  audioSock,
		lookup: lookup,
		log:    logger,
		frames: make(chan Frame, broadcastCapacity),
	}
}

// SubscribeRecorder returns a channel receiving every published frame,
// for a recorder to persist to a WAV file. Unlike the self-filtered
// session fan-out, a recorder sees all frames including self-sourced
// ones.
func (b *Bus) SubscribeRecorder() <-chan Frame {
	ch := make(chan Frame, broadcastCapacity)
	b.mu.Lock()
	b.recorderSubs = append(b.recorderSubs, ch)
	b.mu.Unlock()
	return ch
}

// SessionSource adapts a Bus's recorder-style fan-out to a single
// session's incoming-packet stream, for use as a pipeline.PacketSource
// (playback of one session's audio, e.g. a UDP intercom relay).
type SessionSource struct {
	bus    *Bus
	filter *net.UDPAddr
	ch     <-chan Frame
}

// NewSessionSource returns a SessionSource yielding only frames whose
// source address equals filter.
func (b *Bus) NewSessionSource(filter *net.UDPAddr) *SessionSource {
	return &SessionSource{bus: b, filter: filter, ch: b.SubscribeRecorder()}
}

// Close unsubscribes the SessionSource's recorder channel from the bus.
// Callers must call this once the source is no longer read from (e.g.
// when the playback pipeline consuming it stops), or the bus's recorder
// subscriber list grows unbounded across repeated StartPlayback calls.
func (s *SessionSource) Close() {
	s.bus.UnsubscribeRecorder(s.ch)
}

// Next implements pipeline.PacketSource.
func (s *SessionSource) Next(ctx context.Context) (protocol.AudioPacket, int64, error) {
	for {
		select {
		case <-ctx.Done():
			return protocol.AudioPacket{}, 0, ctx.Err()
		case frame, ok := <-s.ch:
			if !ok {
				return protocol.AudioPacket{}, 0, ctx.Err()
			}
			if s.filter != nil && frame.Source.String() != s.filter.String() {
				continue
			}
			return frame.Packet, frame.MonotonicTS, nil
		}
	}
}

// UnsubscribeRecorder removes a previously subscribed recorder channel.
func (b *Bus) UnsubscribeRecorder(ch <-chan Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.recorderSubs {
		if c == ch {
			b.recorderSubs = append(b.recorderSubs[:i], b.recorderSubs[i+1:]...)
			close(c)
			return
		}
	}
}

// Run drives the receiver task and the broadcaster task until ctx is
// cancelled.
func (b *Bus) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- b.receiveLoop(ctx) }()

	go b.broadcastLoop(ctx)

	select {
	case <-ctx.Done():
		b.audio.Close()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// receiveLoop reads datagrams, drops unsubscribed sources, and publishes
// the rest (spec.md §4.7's receiver task).
func (b *Bus) receiveLoop(ctx context.Context) error {
	buf := make([]byte, protocol.MaxAudioPayload+32)
	for {
		pkt, src, err := b.audio.Recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn("audiobus: recv failed", "err", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if !b.lookup.IsSubscriber(src) {
			continue
		}

		frame := Frame{Packet: pkt, Source: src, MonotonicTS: time.Now().UnixMicro()}
		select {
		case b.frames <- frame:
		default:
			b.log.Debug("audiobus: broadcast channel full, dropping frame")
		}
	}
}

// broadcastLoop drains the channel and forwards each frame to every
// subscriber whose UDP address differs from the frame's source, plus
// every recorder subscriber unconditionally.
func (b *Bus) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-b.frames:
			if !ok {
				return
			}
			b.fanOut(frame)
		}
	}
}

func (b *Bus) fanOut(frame Frame) {
	for _, sub := range b.lookup.Subscribers() {
		if sub.String() == frame.Source.String() {
			continue // self-filter
		}
		if err := b.audio.Send(frame.Packet, sub); err != nil {
			b.log.Warn("audiobus: forward failed", "dest", sub, "err", err)
		}
	}

	// Held for the whole fan-out (sends are non-blocking) so
	// UnsubscribeRecorder can't close a channel out from under a
	// concurrent send to it.
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.recorderSubs {
		select {
		case ch <- frame:
		default:
			b.log.Debug("audiobus: recorder channel full, dropping frame")
		}
	}
}
