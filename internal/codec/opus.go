package codec

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/xiaolink/xiaolink/internal/protocol"
)

// applicationFor selects libopus's encoder tuning, chosen from
// protocol.AudioConfig.Scene (spec.md's voice/music scenes).
func applicationFor(scene protocol.Scene) opus.Application {
	switch scene {
	case protocol.SceneMusic:
		return opus.AppAudio
	default:
		return opus.AppVoIP
	}
}

// OpusCodec wraps a libopus encoder/decoder pair configured for one
// AudioConfig. Create one per pipeline direction; not safe for concurrent
// use.
type OpusCodec struct {
	enc        *opus.Encoder
	dec        *opus.Decoder
	channels   int
	frameSize  int
}

// NewOpusCodec builds an encoder and decoder matching cfg.
func NewOpusCodec(cfg protocol.AudioConfig) (*OpusCodec, error) {
	channels := int(cfg.Channels)
	if channels == 0 {
		channels = 1
	}

	enc, err := opus.NewEncoder(int(cfg.SampleRate), channels, applicationFor(cfg.Scene))
	if err != nil {
		return nil, fmt.Errorf("codec: new opus encoder: %w", err)
	}
	if err := enc.SetBitrate(int(cfg.BitrateBps)); err != nil {
		return nil, fmt.Errorf("codec: set bitrate: %w", err)
	}
	if err := enc.SetInBandFEC(cfg.FEC); err != nil {
		return nil, fmt.Errorf("codec: set fec: %w", err)
	}
	if err := enc.SetVBR(cfg.VBR); err != nil {
		return nil, fmt.Errorf("codec: set vbr: %w", err)
	}

	dec, err := opus.NewDecoder(int(cfg.SampleRate), channels)
	if err != nil {
		return nil, fmt.Errorf("codec: new opus decoder: %w", err)
	}

	return &OpusCodec{
		enc:       enc,
		dec:       dec,
		channels:  channels,
		frameSize: int(cfg.FrameSize),
	}, nil
}

// Encode implements Codec.
func (c *OpusCodec) Encode(pcm []int16) ([]byte, error) {
	// A packet never exceeds the input PCM size; size the scratch buffer
	// generously rather than precisely.
	out := make([]byte, 4000)
	n, err := c.enc.Encode(pcm, out)
	if err != nil {
		return nil, fmt.Errorf("codec: opus encode: %w", err)
	}
	return out[:n], nil
}

// Decode implements Codec.
func (c *OpusCodec) Decode(packet []byte, out []int16) (int, error) {
	n, err := c.dec.Decode(packet, out)
	if err != nil {
		return 0, fmt.Errorf("codec: opus decode: %w", err)
	}
	return n * c.channels, nil
}
