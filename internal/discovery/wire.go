// Package discovery implements the HMAC-authenticated broadcast-UDP peer
// discovery handshake (spec.md §4.2, §6). Grounded on
// original_source/examples/discovery-rust/src/discovery_protocol.rs, adapted
// to Go's net package and crypto/hmac.
package discovery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	// DefaultPort is the discovery UDP port (spec.md §6).
	DefaultPort = 5354

	requestSize  = 28
	responseSize = 66
	hmacSize     = 32

	// MaxClockSkew bounds how stale a request's embedded timestamp may be
	// (spec.md §3 invariant 5, §4.2).
	MaxClockSkew = 30 // seconds
)

// Request is the 28-byte discovery request: device_id[16] ‖ nonce[4] ‖
// timestamp_secs[8].
type Request struct {
	DeviceID  [16]byte
	Nonce     [4]byte
	Timestamp int64 // unix seconds
}

// Encode serializes a Request to its 28-byte wire form.
func (r Request) Encode() []byte {
	buf := make([]byte, requestSize)
	copy(buf[0:16], r.DeviceID[:])
	copy(buf[16:20], r.Nonce[:])
	binary.BigEndian.PutUint64(buf[20:28], uint64(r.Timestamp))
	return buf
}

// DecodeRequest parses a 28-byte discovery request.
func DecodeRequest(data []byte) (Request, error) {
	if len(data) != requestSize {
		return Request{}, fmt.Errorf("discovery: request must be %d bytes, got %d", requestSize, len(data))
	}
	var r Request
	copy(r.DeviceID[:], data[0:16])
	copy(r.Nonce[:], data[16:20])
	r.Timestamp = int64(binary.BigEndian.Uint64(data[20:28]))
	return r, nil
}

// Response is the 66-byte discovery response: request_echo[28] ‖ ipv4[4] ‖
// tcp_port[2] ‖ hmac_sha256[32].
type Response struct {
	RequestEcho [requestSize]byte
	IPv4        [4]byte
	TCPPort     uint16
	HMAC        [hmacSize]byte
}

// signedPortion returns the bytes the HMAC covers: request_echo ‖ ipv4 ‖
// tcp_port (spec.md §6). The canonical form computes the HMAC only over the
// response, never embedding it inside the request — see DESIGN.md's
// resolution of the "legacy discovery variants" open question.
func signedPortion(requestEcho []byte, ip [4]byte, port uint16) []byte {
	buf := make([]byte, 0, requestSize+6)
	buf = append(buf, requestEcho...)
	buf = append(buf, ip[:]...)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], port)
	buf = append(buf, portBuf[:]...)
	return buf
}

// BuildResponse constructs and signs a Response for the given request echo.
func BuildResponse(secret []byte, requestEcho []byte, ip [4]byte, tcpPort uint16) (Response, error) {
	if len(requestEcho) != requestSize {
		return Response{}, fmt.Errorf("discovery: request echo must be %d bytes", requestSize)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(signedPortion(requestEcho, ip, tcpPort))
	sig := mac.Sum(nil)

	var resp Response
	copy(resp.RequestEcho[:], requestEcho)
	resp.IPv4 = ip
	resp.TCPPort = tcpPort
	copy(resp.HMAC[:], sig)
	return resp, nil
}

// Encode serializes a Response to its 66-byte wire form.
func (r Response) Encode() []byte {
	buf := make([]byte, responseSize)
	copy(buf[0:28], r.RequestEcho[:])
	copy(buf[28:32], r.IPv4[:])
	binary.BigEndian.PutUint16(buf[32:34], r.TCPPort)
	copy(buf[34:66], r.HMAC[:])
	return buf
}

// DecodeResponse parses a discovery response of at least 66 bytes (spec.md
// §4.2 permits size >= 66; extra trailing bytes are ignored).
func DecodeResponse(data []byte) (Response, error) {
	if len(data) < responseSize {
		return Response{}, fmt.Errorf("discovery: response must be >= %d bytes, got %d", responseSize, len(data))
	}
	var r Response
	copy(r.RequestEcho[:], data[0:28])
	copy(r.IPv4[:], data[28:32])
	r.TCPPort = binary.BigEndian.Uint16(data[32:34])
	copy(r.HMAC[:], data[34:66])
	return r, nil
}

// Verify recomputes the HMAC over resp's echoed request, IP, and port and
// constant-time-compares it against resp.HMAC.
func Verify(secret []byte, resp Response) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(signedPortion(resp.RequestEcho[:], resp.IPv4, resp.TCPPort))
	expected := mac.Sum(nil)
	return hmac.Equal(expected, resp.HMAC[:])
}
