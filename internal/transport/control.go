// Package transport wraps the raw TCP control connection and UDP audio
// socket described in spec.md §4.3: independent send/recv locks on TCP so
// reads and writes never block each other, and a thin encode/decode
// wrapper around the UDP audio socket.
package transport

import (
	"net"
	"sync"

	"github.com/xiaolink/xiaolink/internal/protocol"
)

// Control wraps one TCP connection. Send and Recv may be called
// concurrently from different goroutines; concurrent Sends (or concurrent
// Recvs) serialize on their respective locks.
type Control struct {
	conn     net.Conn
	sendMu   sync.Mutex
	recvMu   sync.Mutex
	peerAddr net.Addr
}

// NewControl wraps an already-connected/accepted net.Conn.
func NewControl(conn net.Conn) *Control {
	return &Control{conn: conn, peerAddr: conn.RemoteAddr()}
}

// Send encodes and writes one frame atomically with respect to other
// Send calls.
func (c *Control) Send(msg protocol.ControlMessage) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return protocol.WriteFrame(c.conn, msg)
}

// Recv blocks until a full frame is available.
func (c *Control) Recv() (protocol.ControlMessage, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return protocol.ReadFrame(c.conn)
}

// PeerAddr returns the connection's fixed remote address.
func (c *Control) PeerAddr() net.Addr { return c.peerAddr }

// Close closes the underlying connection, unblocking any in-flight Recv.
func (c *Control) Close() error { return c.conn.Close() }
