package transport

import (
	"fmt"
	"net"

	"github.com/xiaolink/xiaolink/internal/protocol"
)

// Audio wraps one UDP socket carrying AudioPacket datagrams (spec.md
// §4.3's "UDP audio"), bound to an ephemeral port unless a fixed port is
// requested. SO_BROADCAST is left at Go's default for UDP sockets (enabled);
// nothing here clears it.
type Audio struct {
	conn *net.UDPConn
}

// NewAudio opens a UDP socket on the given local port (0 for ephemeral).
func NewAudio(port int) (*Audio, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp: %w", err)
	}
	return &Audio{conn: conn}, nil
}

// LocalPort returns the bound local UDP port, for advertising in the Hello
// exchange.
func (a *Audio) LocalPort() uint16 {
	return uint16(a.conn.LocalAddr().(*net.UDPAddr).Port)
}

// Send encodes and writes one datagram to target.
func (a *Audio) Send(p protocol.AudioPacket, target *net.UDPAddr) error {
	data, err := protocol.EncodeAudioPacket(p)
	if err != nil {
		return err
	}
	_, err = a.conn.WriteToUDP(data, target)
	return err
}

// Recv reads one datagram and decodes it, returning the packet and its
// source address.
func (a *Audio) Recv(buf []byte) (protocol.AudioPacket, *net.UDPAddr, error) {
	n, addr, err := a.conn.ReadFromUDP(buf)
	if err != nil {
		return protocol.AudioPacket{}, nil, err
	}
	p, err := protocol.DecodeAudioPacket(buf[:n])
	if err != nil {
		return protocol.AudioPacket{}, addr, err
	}
	return p, addr, nil
}

// Close closes the underlying socket.
func (a *Audio) Close() error { return a.conn.Close() }
