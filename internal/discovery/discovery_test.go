package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildResponseVerifies(t *testing.T) {
	secret := []byte("k")
	req := Request{Timestamp: time.Now().Unix()}
	req.DeviceID = [16]byte{1, 2, 3}
	req.Nonce = [4]byte{0, 0, 0, 1}

	resp, err := BuildResponse(secret, req.Encode(), [4]byte{192, 168, 1, 10}, 8080)
	require.NoError(t, err)
	require.True(t, Verify(secret, resp))

	tampered := resp
	tampered.TCPPort = 9999
	require.False(t, Verify(secret, tampered))
}

func TestHappyPathVector(t *testing.T) {
	// spec.md §8 end-to-end scenario 1.
	secret := []byte("k")
	req := Request{DeviceID: [16]byte{}, Nonce: [4]byte{0, 0, 0, 1}, Timestamp: time.Now().Unix()}

	resp, err := BuildResponse(secret, req.Encode(), [4]byte{192, 168, 1, 10}, 0x1f90)
	require.NoError(t, err)
	require.Equal(t, req.Encode(), resp.RequestEcho[:])
	require.Equal(t, [4]byte{192, 168, 1, 10}, resp.IPv4)
	require.Equal(t, uint16(0x1f90), resp.TCPPort)
	require.True(t, Verify(secret, resp))
}

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	req := Request{DeviceID: [16]byte{9}, Nonce: [4]byte{1, 2, 3, 4}, Timestamp: 1700000000}
	got, err := DecodeRequest(req.Encode())
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestDecodeRequestRejectsWrongLength(t *testing.T) {
	_, err := DecodeRequest(make([]byte, 27))
	require.Error(t, err)
}

func TestClockSkewBoundary(t *testing.T) {
	// spec.md §8: timestamp exactly now-30s accepted, now-31s dropped.
	now := time.Now().Unix()
	require.LessOrEqual(t, absDiff(now, now-MaxClockSkew), int64(MaxClockSkew))
	require.Greater(t, absDiff(now, now-MaxClockSkew-1), int64(MaxClockSkew))
}
