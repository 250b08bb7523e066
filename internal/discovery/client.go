package discovery

import (
	"context"
	"crypto/rand"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiaolink/xiaolink/internal/xerr"
)

// Endpoint is a discovered server's control-plane address.
type Endpoint struct {
	IP      net.IP
	TCPPort uint16
}

// Locator performs the client side of discovery (spec.md §4.2 "Client
// side"): broadcast a request, wait up to 3s for a response whose HMAC
// verifies, retry with 1s backoff
// until found or ctx is cancelled.
type Locator struct {
	secret   []byte
	deviceID [16]byte
	log      *log.Logger
}

// NewLocator creates a Locator identified by deviceID and authenticating
// responses with secret.
func NewLocator(secret []byte, deviceID [16]byte, logger *log.Logger) *Locator {
	if logger == nil {
		logger = log.Default()
	}
	return &Locator{secret: secret, deviceID: deviceID, log: logger}
}

// Locate broadcasts discovery requests on port until a validly-signed
// response arrives or ctx is cancelled.
func (l *Locator) Locate(ctx context.Context, port int) (Endpoint, error) {
	if port == 0 {
		port = DefaultPort
	}
	for {
		ep, err := l.attempt(ctx, port)
		if err == nil {
			return ep, nil
		}
		if ctx.Err() != nil {
			return Endpoint{}, xerr.Wrap(xerr.KindDiscoveryFailed, "discovery cancelled", ctx.Err())
		}
		l.log.Info("discovery: no response, retrying", "err", err)
		select {
		case <-ctx.Done():
			return Endpoint{}, xerr.Wrap(xerr.KindDiscoveryFailed, "discovery cancelled", ctx.Err())
		case <-time.After(time.Second):
		}
	}
}

func (l *Locator) attempt(ctx context.Context, port int) (Endpoint, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return Endpoint{}, err
	}
	defer conn.Close()
	if err := enableBroadcast(conn); err != nil {
		l.log.Warn("discovery: could not enable broadcast", "err", err)
	}

	req := Request{DeviceID: l.deviceID, Timestamp: time.Now().Unix()}
	if _, err := rand.Read(req.Nonce[:]); err != nil {
		return Endpoint{}, err
	}
	reqBytes := req.Encode()

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: port}
	if _, err := conn.WriteToUDP(reqBytes, dst); err != nil {
		return Endpoint{}, err
	}

	deadline := time.Now().Add(3 * time.Second)
	conn.SetReadDeadline(deadline)

	buf := make([]byte, 256)
	for {
		if ctx.Err() != nil {
			return Endpoint{}, ctx.Err()
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return Endpoint{}, xerr.Wrap(xerr.KindDiscoveryFailed, "no discovery response within 3s", err)
		}
		if n < responseSize {
			continue
		}
		resp, err := DecodeResponse(buf[:n])
		if err != nil {
			continue
		}
		if resp.RequestEcho != [requestSize]byte(paddedEcho(reqBytes)) {
			continue
		}
		if !Verify(l.secret, resp) {
			l.log.Debug("discovery: hmac mismatch, dropping unsolicited response")
			continue
		}
		return Endpoint{IP: net.IPv4(resp.IPv4[0], resp.IPv4[1], resp.IPv4[2], resp.IPv4[3]), TCPPort: resp.TCPPort}, nil
	}
}

func paddedEcho(req []byte) [requestSize]byte {
	var out [requestSize]byte
	copy(out[:], req)
	return out
}
