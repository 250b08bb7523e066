package audiobus

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaolink/xiaolink/internal/protocol"
	"github.com/xiaolink/xiaolink/internal/transport"
)

type staticLookup struct {
	subs map[string]*net.UDPAddr
}

func (l *staticLookup) IsSubscriber(addr *net.UDPAddr) bool {
	_, ok := l.subs[addr.String()]
	return ok
}

func (l *staticLookup) Subscribers() []*net.UDPAddr {
	out := make([]*net.UDPAddr, 0, len(l.subs))
	for _, a := range l.subs {
		out = append(out, a)
	}
	return out
}

func TestBusForwardsWithSelfFilterAndRecorderSeesAll(t *testing.T) {
	busSock, err := transport.NewAudio(0)
	require.NoError(t, err)
	peerA, err := transport.NewAudio(0)
	require.NoError(t, err)
	defer peerA.Close()
	peerB, err := transport.NewAudio(0)
	require.NoError(t, err)
	defer peerB.Close()

	addrA := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(peerA.LocalPort())}
	addrB := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(peerB.LocalPort())}

	lookup := &staticLookup{subs: map[string]*net.UDPAddr{
		addrA.String(): addrA,
		addrB.String(): addrB,
	}}

	b := New(busSock, lookup, nil)
	recCh := b.SubscribeRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	busAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(busSock.LocalPort())}
	pkt := protocol.AudioPacket{Seq: 1, Timestamp: 1000, Payload: []byte{9}}
	require.NoError(t, peerA.Send(pkt, busAddr))

	buf := make([]byte, 256)
	got, _, err := peerB.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, pkt, got)

	select {
	case frame := <-recCh:
		require.Equal(t, pkt, frame.Packet)
	case <-time.After(time.Second):
		t.Fatal("recorder did not see the frame")
	}
}

func TestUnsubscribeRecorderRemovesFromFanOut(t *testing.T) {
	busSock, err := transport.NewAudio(0)
	require.NoError(t, err)
	peerA, err := transport.NewAudio(0)
	require.NoError(t, err)
	defer peerA.Close()

	addrA := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(peerA.LocalPort())}
	lookup := &staticLookup{subs: map[string]*net.UDPAddr{addrA.String(): addrA}}

	b := New(busSock, lookup, nil)
	recCh := b.SubscribeRecorder()
	b.UnsubscribeRecorder(recCh)
	require.Empty(t, b.recorderSubs)

	_, ok := <-recCh
	require.False(t, ok, "unsubscribed recorder channel must be closed")
}

func TestNewSessionSourceCloseUnsubscribes(t *testing.T) {
	busSock, err := transport.NewAudio(0)
	require.NoError(t, err)

	b := New(busSock, &staticLookup{subs: map[string]*net.UDPAddr{}}, nil)
	src := b.NewSessionSource(nil)
	require.Len(t, b.recorderSubs, 1)

	src.Close()
	require.Empty(t, b.recorderSubs)
}
