// Package server implements the coordinator side of spec.md: the
// discovery responder, the TCP accept loop and handshake, session
// registration, and the shared audio bus. Structured after
// _examples/zalo-moonparty/internal/server/server.go's New()-constructor,
// ctx/cancel/wg pattern, generalized from an HTTP+WebRTC game relay to a
// TCP+UDP audio coordinator.
package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/xiaolink/xiaolink/internal/audiobus"
	"github.com/xiaolink/xiaolink/internal/audiodevice"
	"github.com/xiaolink/xiaolink/internal/clock"
	"github.com/xiaolink/xiaolink/internal/codec"
	"github.com/xiaolink/xiaolink/internal/command"
	"github.com/xiaolink/xiaolink/internal/config"
	"github.com/xiaolink/xiaolink/internal/discovery"
	"github.com/xiaolink/xiaolink/internal/eventbus"
	"github.com/xiaolink/xiaolink/internal/metrics"
	"github.com/xiaolink/xiaolink/internal/mqttbridge"
	"github.com/xiaolink/xiaolink/internal/pipeline"
	"github.com/xiaolink/xiaolink/internal/protocol"
	"github.com/xiaolink/xiaolink/internal/session"
	"github.com/xiaolink/xiaolink/internal/transport"
	"github.com/xiaolink/xiaolink/internal/xerr"
)

const (
	sessionIdleTimeout  = 60 * time.Second
	serverHeartbeatTick = 30 * time.Second
)

// defaultRecordingConfig decodes the shared audio bus's recorder tap when
// --recordings-dir is set. The bus carries every session's frames
// interleaved, so the persistent archival recorder (unlike a per-session
// StartRecording/StartPlayback exchange, which negotiates its own config)
// has to assume one fixed format (48 kHz mono Opus voice, 20 ms frames) for
// the whole server.
var defaultRecordingConfig = protocol.AudioConfig{
	SampleRate: 48000,
	Channels:   1,
	FrameSize:  960,
	Scene:      protocol.SceneVoice,
	BitrateBps: 32000,
}

// Server is the coordinator process's top-level state.
type Server struct {
	cfg     *config.ServerConfig
	log     *log.Logger
	metrics *metrics.Registry

	sessions *session.Manager
	audio    *transport.Audio
	bus      *audiobus.Bus
	events   *eventbus.Bus

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Server bound to an ephemeral audio UDP socket and ready to
// Run. It does not start listening until Run is called.
func New(cfg *config.ServerConfig, logger *log.Logger, reg *metrics.Registry) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	audioSock, err := transport.NewAudio(0)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("server: open audio socket: %w", err)
	}

	sessions := session.NewManager()
	bus := audiobus.New(audioSock, &subscriberLookup{sessions: sessions}, logger)

	return &Server{
		cfg:      cfg,
		log:      logger,
		metrics:  reg,
		sessions: sessions,
		audio:    audioSock,
		bus:      bus,
		events:   eventbus.New(),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// subscriberLookup adapts session.Manager to audiobus.SubscriberLookup.
type subscriberLookup struct {
	sessions *session.Manager
}

func (l *subscriberLookup) IsSubscriber(addr *net.UDPAddr) bool {
	_, ok := l.sessions.ByUDP(addr)
	return ok
}

func (l *subscriberLookup) Subscribers() []*net.UDPAddr {
	sessions := l.sessions.All()
	out := make([]*net.UDPAddr, 0, len(sessions))
	for _, s := range sessions {
		if s.UDPAddr != nil {
			out = append(out, s.UDPAddr)
		}
	}
	return out
}

// Run starts the discovery responder, the TCP accept loop, and the audio
// bus, blocking until ctx is cancelled or a fatal error occurs.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	defer ln.Close()

	tcpPort := uint16(ln.Addr().(*net.TCPAddr).Port)
	responder := discovery.NewResponder([]byte(s.cfg.ServerAuth), tcpPort, s.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return responder.Serve(gctx, s.cfg.DiscoveryPort) })
	g.Go(func() error { return s.bus.Run(gctx) })
	g.Go(func() error { return s.acceptLoop(gctx, ln) })
	if s.cfg.RecordingsDir != "" {
		if err := os.MkdirAll(s.cfg.RecordingsDir, 0o755); err != nil {
			return fmt.Errorf("server: create recordings dir: %w", err)
		}
		g.Go(func() error { return s.recordBusToWAV(gctx, s.cfg.RecordingsDir, defaultRecordingConfig) })
	}

	go func() {
		<-gctx.Done()
		ln.Close()
	}()

	return g.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	ctrl := transport.NewControl(conn)

	sess, err := s.handshake(ctx, ctrl)
	if err != nil {
		s.log.Warn("server: handshake failed", "peer", conn.RemoteAddr(), "err", err)
		ctrl.Close()
		return
	}

	if err := s.sessions.Register(sess); err != nil {
		s.log.Warn("server: session register failed", "err", err)
		sess.Close()
		return
	}
	if s.metrics != nil {
		s.metrics.SessionCount.Set(float64(s.sessions.Count()))
	}
	defer func() {
		s.sessions.Unregister(sess)
		sess.Close()
		if s.metrics != nil {
			s.metrics.SessionCount.Set(float64(s.sessions.Count()))
		}
	}()

	if s.cfg.MQTTBroker != "" {
		sessionID := sess.Control.PeerAddr().String()
		bridge, err := mqttbridge.New(s.cfg.MQTTBroker, sessionID, s.log)
		if err != nil {
			s.log.Warn("server: mqtt bridge unavailable", "err", err)
		} else {
			sub := s.events.Subscribe()
			go func() {
				bridge.Run(sess.Context(), sub)
				s.events.Unsubscribe(sub)
			}()
		}
	}

	s.messageLoop(sess)
}

func (s *Server) handshake(ctx context.Context, ctrl *transport.Control) (*session.Session, error) {
	msg, err := ctrl.Recv()
	if err != nil {
		return nil, fmt.Errorf("server: recv client hello: %w", err)
	}
	if msg.Tag != protocol.TagClientHello {
		return nil, xerr.New(xerr.KindHandshakeFailed, "expected ClientHello")
	}
	hello := msg.ClientHello
	if hello.Version != s.cfg.Version || hello.AuthString != s.cfg.ServerAuth {
		return nil, xerr.New(xerr.KindHandshakeFailed, "version or auth mismatch")
	}

	reply := protocol.ControlMessage{
		Tag: protocol.TagServerHello,
		ServerHello: protocol.ServerHello{
			AuthString: s.cfg.ClientAuth,
			Version:    s.cfg.Version,
			UDPPort:    s.audio.LocalPort(),
		},
	}
	if err := ctrl.Send(reply); err != nil {
		return nil, fmt.Errorf("server: send server hello: %w", err)
	}

	tcpHost, _, _ := net.SplitHostPort(ctrl.PeerAddr().String())
	udpAddr := &net.UDPAddr{IP: net.ParseIP(tcpHost), Port: int(hello.UDPPort)}

	return session.New(ctx, ctrl, udpAddr, hello.Info), nil
}

// messageLoop processes control messages sequentially, enforcing the
// 60-second idle timeout (spec.md §4.4).
func (s *Server) messageLoop(sess *session.Session) {
	dispatcher := &command.Dispatcher{Volume: command.NewVolumeStore(0)}

	heartbeat := time.NewTicker(serverHeartbeatTick)
	defer heartbeat.Stop()

	msgCh := make(chan protocol.ControlMessage)
	errCh := make(chan error, 1)
	go func() {
		for {
			msg, err := sess.Control.Recv()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- msg:
			case <-sess.Context().Done():
				return
			}
		}
	}()

	idle := time.NewTimer(sessionIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-sess.Context().Done():
			return
		case <-idle.C:
			s.log.Warn("server: session idle timeout", "peer", sess.Control.PeerAddr())
			return
		case <-heartbeat.C:
			ts := time.Now().UnixMicro()
			_ = sess.Control.Send(protocol.ControlMessage{Tag: protocol.TagPing, Ping: protocol.Ping{T1: ts}})
		case err := <-errCh:
			s.log.Debug("server: session read loop ended", "err", err)
			return
		case msg := <-msgCh:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(sessionIdleTimeout)
			s.handleMessage(sess, dispatcher, msg)
		}
	}
}

func (s *Server) handleMessage(sess *session.Session, dispatcher *command.Dispatcher, msg protocol.ControlMessage) {
	switch msg.Tag {
	case protocol.TagPing:
		_ = sess.Control.Send(protocol.ControlMessage{
			Tag:  protocol.TagPong,
			Pong: protocol.Pong{Seq: msg.Ping.Seq, T1: msg.Ping.T1, T2: time.Now().UnixMicro()},
		})
	case protocol.TagRpcRequest:
		s.handleRPC(sess, dispatcher, msg.RpcRequest)
	case protocol.TagRpcResponse:
		sess.RPC.Fulfill(msg.RpcResponse.ID, msg.RpcResponse.Result)
	case protocol.TagStartRecording:
		s.startRecording(sess, msg.StartRecording.Config)
	case protocol.TagStopRecording:
		sess.SetRecording(nil)
	case protocol.TagStartPlayback:
		s.startPlayback(sess, msg.StartPlayback.Config)
	case protocol.TagStopPlayback:
		sess.SetPlayback(nil)
	case protocol.TagEvent:
		s.events.Publish(msg.Event, sess.Control.PeerAddr().String())
	default:
		s.log.Debug("server: unhandled message tag", "tag", msg.Tag)
	}
}

// startRecording starts a record pipeline streaming to sess's UDP endpoint
// (spec.md §4.8). The server has no capture device; it always captures from
// a null (silent) device.
func (s *Server) startRecording(sess *session.Session, cfg protocol.AudioConfig) {
	c, err := codecFor(cfg)
	if err != nil {
		s.log.Warn("server: start recording: codec", "err", err)
		return
	}
	capture := audiodevice.NewNullCapture(cfg.FrameDuration())
	rec := pipeline.NewRecorder(sess.Context(), cfg, sess.UDPAddr, s.audio, c, capture, s.log)
	sess.SetRecording(rec)
}

// startPlayback jitter-buffers and decodes audio arriving from sess's UDP
// endpoint (spec.md §4.9). The server has no playback device; decoded
// frames go to a null device that discards them.
func (s *Server) startPlayback(sess *session.Session, cfg protocol.AudioConfig) {
	c, err := codecFor(cfg)
	if err != nil {
		s.log.Warn("server: start playback: codec", "err", err)
		return
	}
	out := audiodevice.NewNullPlayback(cfg.FrameDuration())
	src := s.bus.NewSessionSource(sess.UDPAddr)
	player := pipeline.NewPlayer(sess.Context(), sess.Clock, c, src, out, s.log)
	sess.SetPlayback(&playbackPipeline{player: player, src: src})
}

// playbackPipeline pairs a playback pipeline with the bus.SessionSource
// feeding it, so stopping the pipeline also unsubscribes the source's
// recorder channel from the bus (otherwise every StartPlayback leaks one
// subscriber channel into audiobus.Bus.recorderSubs).
type playbackPipeline struct {
	player *pipeline.Player
	src    *audiobus.SessionSource
}

func (p *playbackPipeline) Stop() {
	p.player.Stop()
	p.src.Close()
}

func codecFor(cfg protocol.AudioConfig) (codec.Codec, error) {
	oc, err := codec.NewOpusCodec(cfg)
	if err != nil {
		return nil, err
	}
	return oc, nil
}

func (s *Server) handleRPC(sess *session.Session, dispatcher *command.Dispatcher, req protocol.RpcRequest) {
	run := func() {
		ctx := sess.Context()
		var cancel context.CancelFunc
		if req.HasTimeout {
			ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
			defer cancel()
		}
		result := dispatcher.Dispatch(ctx, req.Command)
		_ = sess.Control.Send(protocol.ControlMessage{
			Tag:         protocol.TagRpcResponse,
			RpcResponse: protocol.RpcResponse{ID: req.ID, Result: result},
		})
	}
	if req.RunAsync {
		go run()
	} else {
		run()
	}
}

// Call issues an RPC to sess's peer and blocks for its result, mirroring
// internal/client's Client.Call but in the opposite direction: the
// coordinator dispatching Shell/GetInfo/SetVolume (and any other command)
// to a connected edge device (spec.md §4.19).
func (s *Server) Call(ctx context.Context, sess *session.Session, cmd protocol.Command) (protocol.CommandResult, error) {
	id, ch := sess.RPC.Alloc()
	req := protocol.ControlMessage{
		Tag: protocol.TagRpcRequest,
		RpcRequest: protocol.RpcRequest{
			ID:      id,
			Command: cmd,
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.RpcRequest.HasTimeout = true
		req.RpcRequest.TimeoutMs = uint64(time.Until(deadline).Milliseconds())
	}
	if err := sess.Control.Send(req); err != nil {
		sess.RPC.Cancel(id)
		return protocol.CommandResult{}, fmt.Errorf("server: send rpc request: %w", err)
	}
	return sess.RPC.Wait(ctx, id, ch)
}

// CallAddr looks up the session bound to addr's TCP peer and issues cmd to
// it via Call.
func (s *Server) CallAddr(ctx context.Context, addr net.Addr, cmd protocol.Command) (protocol.CommandResult, error) {
	sess, ok := s.sessions.ByTCP(addr)
	if !ok {
		return protocol.CommandResult{}, fmt.Errorf("server: call: no session for %s", addr)
	}
	return s.Call(ctx, sess, cmd)
}

// Close releases the server's resources.
func (s *Server) Close() error {
	s.cancel()
	return s.audio.Close()
}
