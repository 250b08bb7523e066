package audiodevice

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var initOnce sync.Once
var initErr error

func ensureInit() error {
	initOnce.Do(func() {
		initErr = portaudio.Initialize()
	})
	return initErr
}

// deviceByName finds a portaudio.DeviceInfo by name, or returns the host
// API's default when name is empty.
func deviceByName(name string, wantInput bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		host, err := portaudio.DefaultHostApi()
		if err != nil {
			return nil, err
		}
		if wantInput {
			return host.DefaultInputDevice, nil
		}
		return host.DefaultOutputDevice, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("audiodevice: no device named %q", name)
}

// PortAudioCapture is a Capture backed by the system's default (or named)
// input device.
type PortAudioCapture struct {
	stream *portaudio.Stream
	bound  []int16 // buffer bound to the stream at OpenStream time
}

// NewPortAudioCapture opens an input stream matching p.
func NewPortAudioCapture(p Params) (*PortAudioCapture, error) {
	if err := ensureInit(); err != nil {
		return nil, fmt.Errorf("audiodevice: initialize portaudio: %w", err)
	}
	dev, err := deviceByName(p.DeviceName, true)
	if err != nil {
		return nil, err
	}

	inParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: p.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(p.SampleRate),
		FramesPerBuffer: p.FrameSize,
	}

	buf := make([]int16, p.FrameSize*p.Channels)
	stream, err := portaudio.OpenStream(inParams, buf)
	if err != nil {
		return nil, fmt.Errorf("audiodevice: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("audiodevice: start input stream: %w", err)
	}

	return &PortAudioCapture{stream: stream, bound: buf}, nil
}

// Read implements Capture.
func (c *PortAudioCapture) Read(buf []int16) error {
	if err := c.stream.Read(); err != nil {
		return err
	}
	copy(buf, c.bound)
	return nil
}

// Close implements Capture.
func (c *PortAudioCapture) Close() error {
	if err := c.stream.Stop(); err != nil {
		return err
	}
	return c.stream.Close()
}

// PortAudioPlayback is a Playback backed by the system's default (or named)
// output device.
type PortAudioPlayback struct {
	stream *portaudio.Stream
	bound  []int16
}

// NewPortAudioPlayback opens an output stream matching p.
func NewPortAudioPlayback(p Params) (*PortAudioPlayback, error) {
	if err := ensureInit(); err != nil {
		return nil, fmt.Errorf("audiodevice: initialize portaudio: %w", err)
	}
	dev, err := deviceByName(p.DeviceName, false)
	if err != nil {
		return nil, err
	}

	outParams := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: p.Channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(p.SampleRate),
		FramesPerBuffer: p.FrameSize,
	}

	buf := make([]int16, p.FrameSize*p.Channels)
	stream, err := portaudio.OpenStream(outParams, buf)
	if err != nil {
		return nil, fmt.Errorf("audiodevice: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("audiodevice: start output stream: %w", err)
	}

	return &PortAudioPlayback{stream: stream, bound: buf}, nil
}

// Write implements Playback.
func (p *PortAudioPlayback) Write(buf []int16) error {
	copy(p.bound, buf)
	return p.stream.Write()
}

// Close implements Playback.
func (p *PortAudioPlayback) Close() error {
	if err := p.stream.Stop(); err != nil {
		return err
	}
	return p.stream.Close()
}
