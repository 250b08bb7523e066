package client

import (
	"context"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiaolink/xiaolink/internal/protocol"
	"github.com/xiaolink/xiaolink/internal/transport"
)

const audioInCapacity = 256

type audioFrame struct {
	pkt protocol.AudioPacket
	ts  int64
}

// audioSource reads every datagram arriving on the client's UDP socket,
// keeps only those from the connected server (spec.md §4.3: a client talks
// to exactly one peer), and presents the result as a pipeline.PacketSource
// for the active Player.
type audioSource struct {
	audio  *transport.Audio
	peer   *net.UDPAddr
	log    *log.Logger
	frames chan audioFrame
}

func newAudioSource(audio *transport.Audio, peer *net.UDPAddr, logger *log.Logger) *audioSource {
	return &audioSource{audio: audio, peer: peer, log: logger, frames: make(chan audioFrame, audioInCapacity)}
}

// run reads datagrams until ctx is cancelled. Cancellation is expected to
// close the underlying socket (Client.Close does this), which unblocks the
// pending read.
func (s *audioSource) run(ctx context.Context) {
	buf := make([]byte, protocol.MaxAudioPayload+32)
	for {
		pkt, addr, err := s.audio.Recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("client: audio recv failed", "err", err)
			continue
		}
		if addr.String() != s.peer.String() {
			continue
		}
		select {
		case s.frames <- audioFrame{pkt: pkt, ts: time.Now().UnixMicro()}:
		default:
			s.log.Debug("client: audio inbound channel full, dropping frame")
		}
	}
}

// Next implements pipeline.PacketSource.
func (s *audioSource) Next(ctx context.Context) (protocol.AudioPacket, int64, error) {
	select {
	case <-ctx.Done():
		return protocol.AudioPacket{}, 0, ctx.Err()
	case f := <-s.frames:
		return f.pkt, f.ts, nil
	}
}
