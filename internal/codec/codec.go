// Package codec defines the audio encode/decode boundary referenced in
// spec.md §4.7's pipeline description and SPEC_FULL.md §4's domain-stack
// wiring: an adapter over gopkg.in/hraban/opus.v2, plus a deterministic
// fake for tests that exercises the same interface without linking libopus.
package codec

// Codec encodes and decodes one pipeline's audio frames. Implementations
// are not required to be safe for concurrent use; each pipeline owns one
// Codec instance per direction.
type Codec interface {
	// Encode compresses one frame of interleaved PCM16 samples into an
	// Opus packet.
	Encode(pcm []int16) ([]byte, error)
	// Decode decompresses one Opus packet into interleaved PCM16 samples,
	// writing into out and returning the number of samples written.
	Decode(packet []byte, out []int16) (int, error)
}
