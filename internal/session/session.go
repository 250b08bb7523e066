// Package session implements spec.md §3's Session entity and §4.7's
// session manager: one Session per connected peer, holding its control
// connection, UDP audio endpoint, RPC manager, active pipelines, and
// cancellation scope. Grounded on
// _examples/zalo-moonparty/internal/session/session.go's mutex-guarded
// struct-with-getters shape, generalized from a game-peer-slot model to
// spec.md's audio-session model.
package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/xiaolink/xiaolink/internal/clock"
	"github.com/xiaolink/xiaolink/internal/protocol"
	"github.com/xiaolink/xiaolink/internal/rpc"
	"github.com/xiaolink/xiaolink/internal/transport"
)

// Pipeline is the minimal surface session needs from a running record or
// playback pipeline: cancel it when superseded or the session tears down.
type Pipeline interface {
	Stop()
}

// Session is one connected peer's full server- or client-side state.
type Session struct {
	Control     *transport.Control
	UDPAddr     *net.UDPAddr
	ClientInfo  protocol.ClientInfo
	RPC         *rpc.Manager
	Clock       *clock.State
	CreatedAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	recording Pipeline
	playback  Pipeline
	volume    uint8
}

// New creates a Session scoped to parent's cancellation.
func New(parent context.Context, ctrl *transport.Control, udpAddr *net.UDPAddr, info protocol.ClientInfo) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		Control:    ctrl,
		UDPAddr:    udpAddr,
		ClientInfo: info,
		RPC:        rpc.NewManager(),
		Clock:      clock.New(),
		CreatedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Context is cancelled when the session tears down.
func (s *Session) Context() context.Context { return s.ctx }

// Volume returns the session's current output volume.
func (s *Session) Volume() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// SetVolume stores v; callers apply spec.md's [0,100] clamp before calling.
func (s *Session) SetVolume(v uint8) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

// SetRecording installs pipeline as the active recording pipeline,
// stopping any prior one first (spec.md invariant 2: "starting a new one
// cancels the prior").
func (s *Session) SetRecording(p Pipeline) {
	s.mu.Lock()
	prior := s.recording
	s.recording = p
	s.mu.Unlock()
	if prior != nil {
		prior.Stop()
	}
}

// SetPlayback installs pipeline as the active playback pipeline, stopping
// any prior one first.
func (s *Session) SetPlayback(p Pipeline) {
	s.mu.Lock()
	prior := s.playback
	s.playback = p
	s.mu.Unlock()
	if prior != nil {
		prior.Stop()
	}
}

// Recording returns the currently active recording pipeline, if any.
func (s *Session) Recording() Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Playback returns the currently active playback pipeline, if any.
func (s *Session) Playback() Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback
}

// Close cancels the session's context (stopping all child pipelines),
// fails every pending RPC, and closes the control connection.
func (s *Session) Close() error {
	s.cancel()
	s.RPC.CancelAll()

	s.mu.Lock()
	rec, pb := s.recording, s.playback
	s.mu.Unlock()
	if rec != nil {
		rec.Stop()
	}
	if pb != nil {
		pb.Stop()
	}

	return s.Control.Close()
}
