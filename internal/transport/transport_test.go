package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xiaolink/xiaolink/internal/protocol"
)

func TestControlSendRecvRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		acceptedCh <- conn
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	serverConn := <-acceptedCh

	client := NewControl(clientConn)
	server := NewControl(serverConn)
	defer client.Close()
	defer server.Close()

	msg := protocol.ControlMessage{Tag: protocol.TagPing, Ping: protocol.Ping{Seq: 7, T1: 123456}}
	require.NoError(t, client.Send(msg))

	got, err := server.Recv()
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestAudioSendRecvRoundTrip(t *testing.T) {
	a, err := NewAudio(0)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewAudio(0)
	require.NoError(t, err)
	defer b.Close()

	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(b.LocalPort())}
	p := protocol.AudioPacket{Seq: 1, Timestamp: 99, Payload: []byte{1, 2, 3}}
	require.NoError(t, a.Send(p, target))

	buf := make([]byte, protocol.MaxAudioPayload+32)
	got, _, err := b.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, p, got)
}
