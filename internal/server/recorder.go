package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/xiaolink/xiaolink/internal/codec"
	"github.com/xiaolink/xiaolink/internal/protocol"
	"github.com/xiaolink/xiaolink/internal/wav"
)

// recordBusToWAV subscribes to the audio bus's recorder channel, decodes
// each frame's opus payload, and persists the PCM to a timestamped WAV
// file in dir, archiving it with zstd once recording stops (spec.md
// §4.7's "a recorder subscribes directly to the broadcast channel to
// persist frames to a WAV file", supplemented with original_source's
// archival step — see internal/wav).
func (s *Server) recordBusToWAV(ctx context.Context, dir string, cfg protocol.AudioConfig) error {
	ch := s.bus.SubscribeRecorder()
	defer s.bus.UnsubscribeRecorder(ch)

	dec, err := codec.NewOpusCodec(cfg)
	if err != nil {
		return fmt.Errorf("server: recording codec: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("session-%d.wav", time.Now().UnixNano()))
	w, err := wav.Create(path, cfg.SampleRate, uint16(cfg.Channels))
	if err != nil {
		return fmt.Errorf("server: create recording: %w", err)
	}

	pcmBuf := make([]int16, protocol.MaxAudioPayload)
	for {
		select {
		case <-ctx.Done():
			if err := w.Close(); err != nil {
				return err
			}
			return wav.Archive(path, path+".zst")
		case frame, ok := <-ch:
			if !ok {
				return w.Close()
			}
			n, err := dec.Decode(frame.Packet.Payload, pcmBuf)
			if err != nil {
				s.log.Warn("server: decode recording frame", "err", err)
				continue
			}
			if err := w.WritePCM(pcmBuf[:n]); err != nil {
				s.log.Warn("server: write recording frame", "err", err)
			}
		}
	}
}
