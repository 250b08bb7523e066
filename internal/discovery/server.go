package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"
)

// Responder answers discovery requests with HMAC-signed responses
// (spec.md §4.2 "Server side").
type Responder struct {
	secret  []byte
	tcpPort uint16
	log     *log.Logger
}

// NewResponder creates a Responder that signs responses with secret and
// advertises tcpPort as the server's control endpoint.
func NewResponder(secret []byte, tcpPort uint16, logger *log.Logger) *Responder {
	if logger == nil {
		logger = log.Default()
	}
	return &Responder{secret: secret, tcpPort: tcpPort, log: logger}
}

// Serve binds the discovery UDP port and answers requests until ctx is
// cancelled. It returns nil when ctx is cancelled, or a bind error.
func (r *Responder) Serve(ctx context.Context, port int) error {
	if port == 0 {
		port = DefaultPort
	}
	lc := net.ListenConfig{Control: reuseAddrControl}
	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	conn := pc.(*net.UDPConn)
	defer conn.Close()
	if err := enableBroadcast(conn); err != nil {
		r.log.Warn("discovery: could not enable broadcast", "err", err)
	}

	r.log.Info("discovery responder listening", "port", port)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 1024)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warn("discovery: read error", "err", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		r.handle(conn, addr, buf[:n])
	}
}

func (r *Responder) handle(conn *net.UDPConn, addr *net.UDPAddr, data []byte) {
	req, err := DecodeRequest(data)
	if err != nil {
		r.log.Debug("discovery: dropping malformed request", "from", addr, "err", err)
		return
	}
	if skew := absDiff(time.Now().Unix(), req.Timestamp); skew > MaxClockSkew {
		r.log.Debug("discovery: dropping stale request", "from", addr, "skew_s", skew)
		return
	}

	localIP, ok := localIPv4For(addr)
	if !ok {
		r.log.Warn("discovery: no local IPv4 address found for reply", "from", addr)
		return
	}

	resp, err := BuildResponse(r.secret, req.Encode(), localIP, r.tcpPort)
	if err != nil {
		r.log.Warn("discovery: failed to build response", "err", err)
		return
	}
	if _, err := conn.WriteToUDP(resp.Encode(), addr); err != nil {
		r.log.Warn("discovery: failed to send response", "to", addr, "err", err)
		return
	}
	r.log.Debug("discovery: answered request", "from", addr)
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// localIPv4For picks the local outbound IPv4 address for reaching remote,
// by dialing a UDP "connection" (no packets sent) and inspecting the chosen
// local address.
func localIPv4For(remote *net.UDPAddr) ([4]byte, bool) {
	conn, err := net.Dial("udp4", remote.String())
	if err != nil {
		return [4]byte{}, false
	}
	defer conn.Close()
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return [4]byte{}, false
	}
	ip4 := local.IP.To4()
	if ip4 == nil {
		return [4]byte{}, false
	}
	var out [4]byte
	copy(out[:], ip4)
	return out, true
}
