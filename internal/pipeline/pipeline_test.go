package pipeline

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaolink/xiaolink/internal/audiodevice"
	"github.com/xiaolink/xiaolink/internal/clock"
	"github.com/xiaolink/xiaolink/internal/codec"
	"github.com/xiaolink/xiaolink/internal/protocol"
	"github.com/xiaolink/xiaolink/internal/transport"
)

func TestRecorderStopTerminatesBothGoroutines(t *testing.T) {
	audio, err := transport.NewAudio(0)
	require.NoError(t, err)
	defer audio.Close()

	cfg := protocol.AudioConfig{SampleRate: 16000, Channels: 1, FrameSize: 160}
	cap := audiodevice.NewNullCapture(time.Millisecond)
	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345}

	r := NewRecorder(context.Background(), cfg, target, audio, codec.FakeCodec{}, cap, nil)
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

type fakeSource struct {
	pkts chan struct {
		pkt protocol.AudioPacket
		ts  int64
	}
}

func newFakeSource() *fakeSource {
	return &fakeSource{pkts: make(chan struct {
		pkt protocol.AudioPacket
		ts  int64
	}, 16)}
}

func (f *fakeSource) push(p protocol.AudioPacket, ts int64) {
	f.pkts <- struct {
		pkt protocol.AudioPacket
		ts  int64
	}{p, ts}
}

func (f *fakeSource) Next(ctx context.Context) (protocol.AudioPacket, int64, error) {
	select {
	case v := <-f.pkts:
		return v.pkt, v.ts, nil
	case <-ctx.Done():
		return protocol.AudioPacket{}, 0, ctx.Err()
	}
}

func TestPlayerStopTerminatesBothGoroutines(t *testing.T) {
	src := newFakeSource()
	clk := clock.New()
	out := audiodevice.NewNullPlayback(time.Millisecond)

	p := NewPlayer(context.Background(), clk, codec.FakeCodec{}, src, out, nil)

	now := time.Now().UnixMicro()
	for i := uint32(0); i < 5; i++ {
		src.push(protocol.AudioPacket{Seq: i + 1, Timestamp: uint64(now) + uint64(i)*20000, Payload: []byte{0, 0}}, now)
	}
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
