// Package audiodevice abstracts the local microphone/speaker boundary used
// by the record and playback pipelines (spec.md §4.7). Grounded on
// gordonklaus/portaudio for the real adapter, with a nulldevice fake for
// tests and headless operation.
package audiodevice

// Capture reads frames of interleaved PCM16 samples from a microphone (or
// equivalent input source).
type Capture interface {
	// Read blocks until one frame of len(buf) samples is available, or
	// returns an error if the device has failed or been closed.
	Read(buf []int16) error
	Close() error
}

// Playback writes frames of interleaved PCM16 samples to a speaker (or
// equivalent output sink).
type Playback interface {
	// Write blocks until buf has been accepted for playback.
	Write(buf []int16) error
	Close() error
}

// Params describes the stream shape both Capture and Playback adapters are
// opened with, derived from protocol.AudioConfig.
type Params struct {
	SampleRate int
	Channels   int
	FrameSize  int
	DeviceName string
}

var (
	_ Capture  = (*NullCapture)(nil)
	_ Playback = (*NullPlayback)(nil)
	_ Capture  = (*PortAudioCapture)(nil)
	_ Playback = (*PortAudioPlayback)(nil)
)
