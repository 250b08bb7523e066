// Package client implements the edge-device side of spec.md §4: locate the
// server over broadcast-UDP discovery, dial its TCP control port, complete
// the hello handshake, then run the message loop that carries heartbeats,
// RPC, events, and audio-command packets for the lifetime of the
// connection. Structured after
// _examples/zalo-moonparty/internal/server/server.go's New()-constructor
// and ctx/cancel lifecycle, mirrored from the accepting side to the
// connecting side.
package client

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/xiaolink/xiaolink/internal/audiodevice"
	"github.com/xiaolink/xiaolink/internal/clock"
	"github.com/xiaolink/xiaolink/internal/codec"
	"github.com/xiaolink/xiaolink/internal/command"
	"github.com/xiaolink/xiaolink/internal/config"
	"github.com/xiaolink/xiaolink/internal/discovery"
	"github.com/xiaolink/xiaolink/internal/eventbus"
	"github.com/xiaolink/xiaolink/internal/pipeline"
	"github.com/xiaolink/xiaolink/internal/protocol"
	"github.com/xiaolink/xiaolink/internal/rpc"
	"github.com/xiaolink/xiaolink/internal/session"
	"github.com/xiaolink/xiaolink/internal/transport"
	"github.com/xiaolink/xiaolink/internal/xerr"
)

const (
	heartbeatInterval = 200 * time.Millisecond // spec.md §4.4: client pings every 200ms
	idleTimeout       = 60 * time.Second
)

// Client is one connected edge device's full session state.
type Client struct {
	cfg *config.ClientConfig
	log *log.Logger

	Control *transport.Control
	audio   *transport.Audio
	server  *net.UDPAddr

	RPC    *rpc.Manager
	Clock  *clock.State
	Events *eventbus.Bus

	dispatcher *command.Dispatcher
	src        *audioSource

	mu        sync.Mutex
	recording session.Pipeline
	playback  session.Pipeline

	ctx    context.Context
	cancel context.CancelFunc
}

// Connect locates the server via discovery, dials its control port, and
// completes the ClientHello/ServerHello handshake (spec.md §4.2, §4.4).
// The returned Client has not yet started its message loop; call Run.
func Connect(parent context.Context, cfg *config.ClientConfig, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}

	deviceID := [16]byte(uuid.New())

	locator := discovery.NewLocator([]byte(cfg.ServerAuth), deviceID, logger)
	ep, err := locator.Locate(parent, cfg.DiscoveryPort)
	if err != nil {
		return nil, fmt.Errorf("client: discovery: %w", err)
	}

	audioSock, err := transport.NewAudio(0)
	if err != nil {
		return nil, fmt.Errorf("client: open audio socket: %w", err)
	}

	tcpAddr := fmt.Sprintf("%s:%d", ep.IP, ep.TCPPort)
	conn, err := net.DialTimeout("tcp", tcpAddr, 5*time.Second)
	if err != nil {
		audioSock.Close()
		return nil, fmt.Errorf("client: dial %s: %w", tcpAddr, err)
	}
	ctrl := transport.NewControl(conn)

	hostname, _ := os.Hostname()
	hello := protocol.ControlMessage{
		Tag: protocol.TagClientHello,
		ClientHello: protocol.ClientHello{
			AuthString: cfg.ServerAuth,
			Version:    cfg.Version,
			UDPPort:    audioSock.LocalPort(),
			Info:       protocol.ClientInfo{Model: "xiaolink-client", Serial: hostname},
		},
	}
	if err := ctrl.Send(hello); err != nil {
		ctrl.Close()
		audioSock.Close()
		return nil, fmt.Errorf("client: send client hello: %w", err)
	}

	reply, err := ctrl.Recv()
	if err != nil {
		ctrl.Close()
		audioSock.Close()
		return nil, fmt.Errorf("client: recv server hello: %w", err)
	}
	if reply.Tag != protocol.TagServerHello {
		ctrl.Close()
		audioSock.Close()
		return nil, xerr.New(xerr.KindHandshakeFailed, "expected ServerHello")
	}
	if reply.ServerHello.Version != cfg.Version || reply.ServerHello.AuthString != cfg.ClientAuth {
		ctrl.Close()
		audioSock.Close()
		return nil, xerr.New(xerr.KindHandshakeFailed, "version or auth mismatch")
	}

	host, _, _ := net.SplitHostPort(tcpAddr)
	serverUDP := &net.UDPAddr{IP: net.ParseIP(host), Port: int(reply.ServerHello.UDPPort)}

	ctx, cancel := context.WithCancel(parent)
	c := &Client{
		cfg:     cfg,
		log:     logger,
		Control: ctrl,
		audio:   audioSock,
		server:  serverUDP,
		RPC:     rpc.NewManager(),
		Clock:   clock.New(),
		Events:  eventbus.New(),
		dispatcher: &command.Dispatcher{
			Model:     "xiaolink-client",
			Serial:    hostname,
			Version:   cfg.Version,
			Volume:    command.NewVolumeStore(0),
			StartedAt: time.Now(),
		},
		ctx:    ctx,
		cancel: cancel,
	}
	c.src = newAudioSource(c.audio, c.server, c.log)
	go c.src.run(ctx)

	return c, nil
}

// Call issues an RPC request to the server and blocks for its response,
// honoring ctx's deadline (spec.md §4.5).
func (c *Client) Call(ctx context.Context, cmd protocol.Command) (protocol.CommandResult, error) {
	id, ch := c.RPC.Alloc()
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
	if err := c.Control.Send(req); err != nil {
		c.RPC.Cancel(id)
		return protocol.CommandResult{}, fmt.Errorf("client: send rpc request: %w", err)
	}
	return c.RPC.Wait(ctx, id, ch)
}

// PublishEvent sends a fire-and-forget Event to the server (spec.md §4.11).
func (c *Client) PublishEvent(name string, data []byte) error {
	return c.Control.Send(protocol.ControlMessage{
		Tag: protocol.TagEvent,
		Event: protocol.Event{
			Name:     name,
			Data:     data,
			SenderTS: time.Now().UnixMicro(),
		},
	})
}

// Context is cancelled when the client disconnects.
func (c *Client) Context() context.Context { return c.ctx }

// Run drives the message loop until the connection is lost, the idle
// timeout fires, or ctx is cancelled (spec.md §4.4).
func (c *Client) Run(ctx context.Context) error {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	msgCh := make(chan protocol.ControlMessage)
	errCh := make(chan error, 1)
	go func() {
		for {
			msg, err := c.Control.Recv()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- msg:
			case <-c.ctx.Done():
				return
			}
		}
	}()

	var seq uint32
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return c.ctx.Err()
		case <-idle.C:
			return xerr.New(xerr.KindTimeout, "session idle timeout")
		case <-heartbeat.C:
			seq++
			_ = c.Control.Send(protocol.ControlMessage{
				Tag:  protocol.TagPing,
				Ping: protocol.Ping{Seq: seq, T1: time.Now().UnixMicro()},
			})
		case err := <-errCh:
			return fmt.Errorf("client: control read: %w", err)
		case msg := <-msgCh:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(idleTimeout)
			c.handleMessage(msg)
		}
	}
}

func (c *Client) handleMessage(msg protocol.ControlMessage) {
	switch msg.Tag {
	case protocol.TagPing:
		_ = c.Control.Send(protocol.ControlMessage{
			Tag:  protocol.TagPong,
			Pong: protocol.Pong{Seq: msg.Ping.Seq, T1: msg.Ping.T1, T2: time.Now().UnixMicro()},
		})
	case protocol.TagPong:
		c.Clock.Sample(msg.Pong.T1, msg.Pong.T2, time.Now().UnixMicro())
	case protocol.TagRpcRequest:
		c.handleRPC(msg.RpcRequest)
	case protocol.TagRpcResponse:
		c.RPC.Fulfill(msg.RpcResponse.ID, msg.RpcResponse.Result)
	case protocol.TagEvent:
		c.Events.Publish(msg.Event, c.Control.PeerAddr().String())
	case protocol.TagStartRecording:
		c.startRecording(msg.StartRecording.Config)
	case protocol.TagStopRecording:
		c.setRecording(nil)
	case protocol.TagStartPlayback:
		c.startPlayback(msg.StartPlayback.Config)
	case protocol.TagStopPlayback:
		c.setPlayback(nil)
	default:
		c.log.Debug("client: unhandled message tag", "tag", msg.Tag)
	}
}

func (c *Client) handleRPC(req protocol.RpcRequest) {
	run := func() {
		ctx := c.ctx
		var cancel context.CancelFunc
		if req.HasTimeout {
			ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
			defer cancel()
		}
		result := c.dispatcher.Dispatch(ctx, req.Command)
		_ = c.Control.Send(protocol.ControlMessage{
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

// startRecording begins capturing this device's local audio and streaming
// it to the server's advertised UDP endpoint (spec.md §4.8).
func (c *Client) startRecording(cfg protocol.AudioConfig) {
	oc, err := codec.NewOpusCodec(cfg)
	if err != nil {
		c.log.Warn("client: start recording: codec", "err", err)
		return
	}
	capture := c.openCapture(cfg)
	rec := pipeline.NewRecorder(c.ctx, cfg, c.server, c.audio, oc, capture, c.log)
	c.setRecording(rec)
}

// startPlayback jitter-buffers and plays out audio arriving from the
// server (spec.md §4.9).
func (c *Client) startPlayback(cfg protocol.AudioConfig) {
	oc, err := codec.NewOpusCodec(cfg)
	if err != nil {
		c.log.Warn("client: start playback: codec", "err", err)
		return
	}
	out := c.openPlayback(cfg)
	player := pipeline.NewPlayer(c.ctx, c.Clock, oc, c.src, out, c.log)
	c.setPlayback(player)
}

// setRecording installs p as the active recording pipeline, stopping any
// prior one first (spec.md invariant 2).
func (c *Client) setRecording(p session.Pipeline) {
	c.mu.Lock()
	prior := c.recording
	c.recording = p
	c.mu.Unlock()
	if prior != nil {
		prior.Stop()
	}
}

// setPlayback installs p as the active playback pipeline, stopping any
// prior one first.
func (c *Client) setPlayback(p session.Pipeline) {
	c.mu.Lock()
	prior := c.playback
	c.playback = p
	c.mu.Unlock()
	if prior != nil {
		prior.Stop()
	}
}

// openCapture opens the device named by the client config, falling back to
// a null (silence) capture if none is configured or the device fails to
// open — the device is genuinely optional on a headless deployment.
func (c *Client) openCapture(cfg protocol.AudioConfig) audiodevice.Capture {
	if c.cfg.Device == "" {
		return audiodevice.NewNullCapture(cfg.FrameDuration())
	}
	params := audiodevice.Params{
		SampleRate: int(cfg.SampleRate),
		Channels:   int(cfg.Channels),
		FrameSize:  int(cfg.FrameSize),
		DeviceName: c.cfg.Device,
	}
	capDev, err := audiodevice.NewPortAudioCapture(params)
	if err != nil {
		c.log.Warn("client: open capture device, falling back to silence", "device", c.cfg.Device, "err", err)
		return audiodevice.NewNullCapture(cfg.FrameDuration())
	}
	return capDev
}

// openPlayback mirrors openCapture for the output side.
func (c *Client) openPlayback(cfg protocol.AudioConfig) audiodevice.Playback {
	if c.cfg.Device == "" {
		return audiodevice.NewNullPlayback(cfg.FrameDuration())
	}
	params := audiodevice.Params{
		SampleRate: int(cfg.SampleRate),
		Channels:   int(cfg.Channels),
		FrameSize:  int(cfg.FrameSize),
		DeviceName: c.cfg.Device,
	}
	out, err := audiodevice.NewPortAudioPlayback(params)
	if err != nil {
		c.log.Warn("client: open playback device, falling back to discard", "device", c.cfg.Device, "err", err)
		return audiodevice.NewNullPlayback(cfg.FrameDuration())
	}
	return out
}

// Close tears down the connection and any active pipelines.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	rec, pb := c.recording, c.playback
	c.mu.Unlock()
	if rec != nil {
		rec.Stop()
	}
	if pb != nil {
		pb.Stop()
	}

	c.audio.Close()
	return c.Control.Close()
}
