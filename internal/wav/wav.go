// Package wav implements the 44-byte-header RIFF/WAVE persistence used by
// the server-side recorder (spec.md §4.9's audio bus: "a recorder
// subscribes directly to the broadcast channel to persist frames to a WAV
// file"), plus zstd archival compression of finished recordings — a
// feature present in original_source/packages/client-v2/src/audio/wav.rs
// that spec.md's distillation dropped, supplemented here per
// SPEC_FULL.md §4.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const headerSize = 44

// Writer appends interleaved PCM16 samples to a RIFF/WAVE file, patching
// the header's size fields on Close.
type Writer struct {
	f             *os.File
	sampleRate    uint32
	channels      uint16
	bytesWritten  uint32
}

// Create opens path and writes a placeholder 44-byte header, to be patched
// on Close once the final data size is known.
func Create(path string, sampleRate uint32, channels uint16) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav: create %s: %w", path, err)
	}
	w := &Writer{f: f, sampleRate: sampleRate, channels: channels}
	if err := w.writeHeader(0); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader(dataSize uint32) error {
	const bitsPerSample = 16
	byteRate := w.sampleRate * uint32(w.channels) * bitsPerSample / 8
	blockAlign := uint16(w.channels) * bitsPerSample / 8

	buf := make([]byte, headerSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], w.channels)
	binary.LittleEndian.PutUint32(buf[24:28], w.sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], byteRate)
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)

	if _, err := w.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}
	if _, err := w.f.Seek(headerSize, io.SeekStart); err != nil {
		return err
	}
	return nil
}

// WritePCM appends one frame of interleaved PCM16 samples.
func (w *Writer) WritePCM(samples []int16) error {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	n, err := w.f.Write(buf)
	if err != nil {
		return fmt.Errorf("wav: write samples: %w", err)
	}
	w.bytesWritten += uint32(n)
	return nil
}

// Close patches the RIFF/data size fields and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.writeHeader(w.bytesWritten); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Header describes a parsed WAVE file's format chunk.
type Header struct {
	SampleRate uint32
	Channels   uint16
	DataSize   uint32
	DataOffset int64
}

// ReadHeader parses the 44-byte canonical header written by Writer. It
// does not handle arbitrary chunk orderings or extra chunks — the archive
// is produced exclusively by this package's Writer.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("wav: read header: %w", err)
	}
	if string(buf[0:4]) != "RIFF" || string(buf[8:12]) != "WAVE" {
		return Header{}, fmt.Errorf("wav: not a RIFF/WAVE file")
	}
	return Header{
		Channels:   binary.LittleEndian.Uint16(buf[22:24]),
		SampleRate: binary.LittleEndian.Uint32(buf[24:28]),
		DataSize:   binary.LittleEndian.Uint32(buf[40:44]),
		DataOffset: headerSize,
	}, nil
}
