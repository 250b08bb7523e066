package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecodeRejectsStringLengthPrefixLargerThanRemainingBody(t *testing.T) {
	// A ClientHello body whose AuthString length prefix claims far more
	// bytes than actually follow it must be rejected up front, not drive
	// an allocation sized off the attacker-controlled prefix.
	body := []byte{byte(TagClientHello), 0x7F, 0xFF, 0xFF, 0xFF}
	_, err := Decode(body)
	require.Error(t, err)
}

func TestDecodeRejectsBytesLengthPrefixLargerThanRemainingBody(t *testing.T) {
	// A Discovery body (putBytes-encoded) with an oversized length prefix
	// and no payload following it.
	body := []byte{byte(TagDiscovery), 0x7F, 0xFF, 0xFF, 0xFF}
	_, err := Decode(body)
	require.Error(t, err)
}

func TestEncodeDecodeControlMessageRoundTrip(t *testing.T) {
	cases := []ControlMessage{
		{Tag: TagClientHello, ClientHello: ClientHello{
			AuthString: "secret", Version: "1.0.0", UDPPort: 6001,
			Info: ClientInfo{Model: "edge-1", Serial: "SN-001"},
		}},
		{Tag: TagServerHello, ServerHello: ServerHello{AuthString: "s", Version: "1.0.0", UDPPort: 6002}},
		{Tag: TagPing, Ping: Ping{Seq: 7, T1: 123456}},
		{Tag: TagPong, Pong: Pong{Seq: 7, T1: 123456, T2: 123999}},
		{Tag: TagRpcRequest, RpcRequest: RpcRequest{
			ID: 42, Command: Command{Tag: CmdSetVolume, SetVolumeVal: 80},
			RunAsync: true, HasTimeout: true, TimeoutMs: 1000,
		}},
		{Tag: TagRpcResponse, RpcResponse: RpcResponse{
			ID: 42, Result: CommandResult{Tag: ResVolume, Volume: VolumeResult{Prev: 50, Curr: 80}},
		}},
		{Tag: TagEvent, Event: Event{Name: "session.started", Data: []byte("payload"), SenderTS: 99, SourceTag: "192.168.1.2:6001"}},
		{Tag: TagStartRecording, StartRecording: StartRecording{Config: AudioConfig{
			SampleRate: 16000, Channels: 1, FrameSize: 320, Scene: SceneVoice, BitrateBps: 24000, VBR: true,
		}}},
		{Tag: TagStopRecording},
		{Tag: TagStartPlayback, StartPlayback: StartPlayback{Config: AudioConfig{SampleRate: 48000, Channels: 2, FrameSize: 960}}},
		{Tag: TagStopPlayback},
	}

	for _, want := range cases {
		body, err := Encode(want)
		require.NoError(t, err)
		got, err := Decode(body)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := ControlMessage{Tag: TagPing, Ping: Ping{Seq: 1, T1: 42}}
	require.NoError(t, WriteFrame(&buf, msg))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	ByteOrder.PutUint32(lenBuf[:], MaxFrameSize+1)
	buf.Write(lenBuf[:])

	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestAudioPacketRoundTrip(t *testing.T) {
	rapid.Check(t, func(tt *rapid.T) {
		p := AudioPacket{
			Seq:       rapid.Uint32().Draw(tt, "seq"),
			Timestamp: rapid.Uint64Range(0, 1<<62).Draw(tt, "ts"),
			Payload:   rapid.SliceOfN(rapid.Byte(), 0, MaxAudioPayload).Draw(tt, "payload"),
		}
		encoded, err := EncodeAudioPacket(p)
		require.NoError(tt, err)
		decoded, err := DecodeAudioPacket(encoded)
		require.NoError(tt, err)
		require.Equal(tt, p.Seq, decoded.Seq)
		require.Equal(tt, p.Timestamp, decoded.Timestamp)
		require.True(tt, bytes.Equal(p.Payload, decoded.Payload))
	})
}

func TestEncodeAudioPacketRejectsOversizePayload(t *testing.T) {
	_, err := EncodeAudioPacket(AudioPacket{Payload: make([]byte, MaxAudioPayload+1)})
	require.Error(t, err)
}
