package pipeline

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiaolink/xiaolink/internal/audiodevice"
	"github.com/xiaolink/xiaolink/internal/clock"
	"github.com/xiaolink/xiaolink/internal/codec"
	"github.com/xiaolink/xiaolink/internal/jitter"
	"github.com/xiaolink/xiaolink/internal/protocol"
)

const (
	playbackQueueCap = 64
	tickInterval     = 5 * time.Millisecond
)

// PacketSource supplies decoded-candidate packets to a Player, decoupling
// it from the concrete UDP receive loop (typically the server's audio bus
// or the client's direct socket read).
type PacketSource interface {
	// Next blocks until one audio packet (and its local-clock arrival
	// timestamp, in microseconds) is available, or ctx is cancelled.
	Next(ctx context.Context) (protocol.AudioPacket, int64, error)
}

// Player runs one active playback: a jitter-buffered decode loop feeding a
// dedicated OS-thread-bound playback driver.
type Player struct {
	jb     *jitter.Buffer
	clk    *clock.State
	codec  codec.Codec
	src    PacketSource
	out    audiodevice.Playback
	log    *log.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewPlayer starts the playback pipeline immediately.
func NewPlayer(ctx context.Context, clk *clock.State, c codec.Codec, src PacketSource, out audiodevice.Playback, logger *log.Logger) *Player {
	if logger == nil {
		logger = log.Default()
	}
	childCtx, cancel := context.WithCancel(ctx)
	p := &Player{
		jb:     jitter.New(),
		clk:    clk,
		codec:  c,
		src:    src,
		out:    out,
		log:    logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(childCtx)
	return p
}

// Stop cancels the pipeline and waits for both its goroutines to exit.
func (p *Player) Stop() {
	p.once.Do(func() {
		p.cancel()
		<-p.done
	})
}

func (p *Player) run(ctx context.Context) {
	defer close(p.done)

	pcmCh := make(chan []int16, playbackQueueCap)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.driveLoop(ctx, pcmCh)
	}()

	p.recvAndTickLoop(ctx, pcmCh)
	close(pcmCh)
	wg.Wait()
}

// driveLoop owns the blocking playback driver on a locked OS thread
// (spec.md §4.9).
func (p *Player) driveLoop(ctx context.Context, in <-chan []int16) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer p.out.Close()

	failures := 0
	for pcm := range in {
		if err := p.out.Write(pcm); err != nil {
			failures++
			p.log.Warn("playback: write failed", "err", err, "attempt", failures)
			if failures > 1 {
				return
			}
			continue // recover once, matching spec.md's underrun-recovery wording
		}
		failures = 0
	}
}

// recvAndTickLoop runs the async side's two concurrent selects (spec.md
// §4.9): UDP receive feeds the jitter buffer, a 5ms ticker drains it.
func (p *Player) recvAndTickLoop(ctx context.Context, pcmCh chan<- []int16) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	recvCh := make(chan struct {
		pkt protocol.AudioPacket
		ts  int64
	})
	recvErrCh := make(chan error, 1)
	go func() {
		for {
			pkt, arrivalLocalUs, err := p.src.Next(ctx)
			if err != nil {
				recvErrCh <- err
				return
			}
			select {
			case recvCh <- struct {
				pkt protocol.AudioPacket
				ts  int64
			}{pkt, arrivalLocalUs}:
			case <-ctx.Done():
				return
			}
		}
	}()

	decodeBuf := make([]int16, 0)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-recvErrCh:
			p.log.Debug("playback: packet source closed", "err", err)
			return
		case r := <-recvCh:
			arrivalRemoteUs := uint64(p.clk.ToRemote(r.ts))
			p.jb.Push(r.pkt, arrivalRemoteUs)
		case <-ticker.C:
			nowRemote := uint64(p.clk.ToRemote(time.Now().UnixMicro()))
			for {
				pkt, ok := p.jb.Pop(nowRemote)
				if !ok {
					break
				}
				if cap(decodeBuf) < protocol.MaxAudioPayload {
					decodeBuf = make([]int16, protocol.MaxAudioPayload)
				}
				n, err := p.codec.Decode(pkt.Payload, decodeBuf[:cap(decodeBuf)])
				if err != nil {
					p.log.Warn("playback: decode failed", "err", err)
					continue
				}
				frame := make([]int16, n)
				copy(frame, decodeBuf[:n])
				select {
				case pcmCh <- frame:
				default:
					p.log.Debug("playback: pcm channel full, dropping frame")
				}
			}
		}
	}
}
