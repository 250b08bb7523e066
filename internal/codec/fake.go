package codec

import "encoding/binary"

// FakeCodec is a deterministic, libopus-free Codec used in tests: it
// "encodes" by writing each PCM16 sample as two little-endian bytes, and
// decodes by reversing that — no lossy compression, so round-trips exactly.
type FakeCodec struct{}

// Encode implements Codec.
func (FakeCodec) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out, nil
}

// Decode implements Codec.
func (FakeCodec) Decode(packet []byte, out []int16) (int, error) {
	n := len(packet) / 2
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(packet[i*2:]))
	}
	return n, nil
}
