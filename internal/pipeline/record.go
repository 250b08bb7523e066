// Package pipeline implements the record and playback audio pipelines from
// spec.md §4.8/§4.9: a dedicated OS-thread-bound capture/playback driver
// feeding (or fed by) an async-side encode/decode loop over a bounded
// channel, paced against wall-clock targets.
package pipeline

import (
	"context"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiaolink/xiaolink/internal/audiodevice"
	"github.com/xiaolink/xiaolink/internal/codec"
	"github.com/xiaolink/xiaolink/internal/protocol"
	"github.com/xiaolink/xiaolink/internal/transport"
)

const (
	captureQueueCap = 32
	maxLeadUs       = int64(time.Second / time.Microsecond)
)

// Recorder runs one active recording: a capture thread feeding PCM frames
// through a bounded channel to an encode/send loop.
type Recorder struct {
	cfg    protocol.AudioConfig
	target *net.UDPAddr
	audio  *transport.Audio
	codec  codec.Codec
	cap    audiodevice.Capture
	log    *log.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewRecorder starts capturing and encoding immediately. ctx is the
// session's (or a fresh Start call's) parent cancellation scope per
// spec.md invariant 2 ("starting a new one cancels the prior" — the
// caller is responsible for superseding any existing Recorder first, as
// session.Session.SetRecording does).
func NewRecorder(ctx context.Context, cfg protocol.AudioConfig, target *net.UDPAddr, audioSock *transport.Audio, c codec.Codec, cap audiodevice.Capture, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	childCtx, cancel := context.WithCancel(ctx)
	r := &Recorder{
		cfg:    cfg,
		target: target,
		audio:  audioSock,
		codec:  c,
		cap:    cap,
		log:    logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.run(childCtx)
	return r
}

// Stop cancels the pipeline and waits for both its goroutines to exit.
func (r *Recorder) Stop() {
	r.once.Do(func() {
		r.cancel()
		<-r.done
	})
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)

	pcmCh := make(chan []int16, captureQueueCap)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.captureLoop(ctx, pcmCh)
	}()

	r.encodeLoop(ctx, pcmCh)
	wg.Wait()
}

// captureLoop owns the blocking capture driver on a locked OS thread, per
// spec.md §4.8: "A dedicated OS thread owns the blocking capture driver."
func (r *Recorder) captureLoop(ctx context.Context, out chan<- []int16) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer r.cap.Close()

	frameLen := int(r.cfg.FrameSize) * int(r.cfg.Channels)
	failures := 0
	for {
		select {
		case <-ctx.Done():
			close(out)
			return
		default:
		}

		buf := make([]int16, frameLen)
		if err := r.cap.Read(buf); err != nil {
			failures++
			r.log.Warn("record: capture read failed", "err", err, "attempt", failures)
			if failures > 1 {
				close(out)
				return
			}
			continue // recover once, matching spec.md's "recover once (re-prepare) then retry"
		}
		failures = 0

		select {
		case out <- buf:
		case <-ctx.Done():
			close(out)
			return
		}
	}
}

// encodeLoop owns the encoder and paces outbound packets against
// wall-clock targets (spec.md §4.8).
func (r *Recorder) encodeLoop(ctx context.Context, pcmCh <-chan []int16) {
	streamStart := time.Now().UnixMicro()
	frameDurUs := r.cfg.FrameDuration().Microseconds()
	var seq uint32

	for {
		select {
		case <-ctx.Done():
			return
		case pcm, ok := <-pcmCh:
			if !ok {
				return
			}
			payload, err := r.codec.Encode(pcm)
			if err != nil {
				r.log.Warn("record: encode failed", "err", err)
				continue
			}

			targetTS := streamStart + int64(seq)*frameDurUs
			now := time.Now().UnixMicro()
			if targetTS > now+maxLeadUs {
				sleepUs := targetTS - now - maxLeadUs
				if sleepUs > 100_000 {
					sleepUs = 100_000
				}
				if sleepUs > 0 {
					time.Sleep(time.Duration(sleepUs) * time.Microsecond)
				}
			}

			pkt := protocol.AudioPacket{Seq: seq, Timestamp: uint64(targetTS), Payload: payload}
			if err := r.audio.Send(pkt, r.target); err != nil {
				r.log.Warn("record: send failed", "err", err)
			}
			seq++
		}
	}
}
