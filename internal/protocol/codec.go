package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ByteOrder is the wire byte order for all fixed-width control-message
// integer fields.
var ByteOrder = binary.BigEndian

// WriteFrame encodes msg and writes it to w as a 4-byte big-endian length
// prefix followed by the encoded body (spec.md §4.1, §6).
func WriteFrame(w io.Writer, msg ControlMessage) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("protocol: frame of %d bytes exceeds max %d", len(body), MaxFrameSize)
	}
	var lenBuf [4]byte
	ByteOrder.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads exactly one length-prefixed frame from r and decodes it.
// A length exceeding MaxFrameSize is a protocol error; the caller must close
// the connection (spec.md §8: 1,048,577 closes the connection).
func ReadFrame(r io.Reader) (ControlMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return ControlMessage{}, err
	}
	n := ByteOrder.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return ControlMessage{}, fmt.Errorf("protocol: frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return ControlMessage{}, err
	}
	return Decode(body)
}

// --- encode/decode primitives ---

func putString(buf *bytes.Buffer, s string) {
	var l [4]byte
	ByteOrder.PutUint32(l[:], uint32(len(s)))
	buf.Write(l[:])
	buf.WriteString(s)
}

func getString(r *bytes.Reader) (string, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return "", err
	}
	n := ByteOrder.Uint32(l[:])
	if int64(n) > int64(r.Len()) {
		return "", fmt.Errorf("protocol: string length %d exceeds %d bytes remaining", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func putBytes(buf *bytes.Buffer, b []byte) {
	var l [4]byte
	ByteOrder.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}

func getBytes(r *bytes.Reader) ([]byte, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return nil, err
	}
	n := ByteOrder.Uint32(l[:])
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("protocol: byte slice length %d exceeds %d bytes remaining", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func putU8(buf *bytes.Buffer, v uint8)   { buf.WriteByte(v) }
func putU16(buf *bytes.Buffer, v uint16) { var b [2]byte; ByteOrder.PutUint16(b[:], v); buf.Write(b[:]) }
func putU32(buf *bytes.Buffer, v uint32) { var b [4]byte; ByteOrder.PutUint32(b[:], v); buf.Write(b[:]) }
func putU64(buf *bytes.Buffer, v uint64) { var b [8]byte; ByteOrder.PutUint64(b[:], v); buf.Write(b[:]) }
func putI64(buf *bytes.Buffer, v int64)  { putU64(buf, uint64(v)) }
func putBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func getU8(r *bytes.Reader) (uint8, error)  { b, err := r.ReadByte(); return b, err }
func getU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return ByteOrder.Uint16(b[:]), nil
}
func getU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return ByteOrder.Uint32(b[:]), nil
}
func getU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return ByteOrder.Uint64(b[:]), nil
}
func getI64(r *bytes.Reader) (int64, error) { v, err := getU64(r); return int64(v), err }
func getBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func putAudioConfig(buf *bytes.Buffer, c AudioConfig) {
	putU32(buf, c.SampleRate)
	putU8(buf, c.Channels)
	putU32(buf, c.FrameSize)
	putU8(buf, uint8(c.Scene))
	putU32(buf, c.BitrateBps)
	putBool(buf, c.VBR)
	putBool(buf, c.FEC)
	putString(buf, c.CaptureDevice)
	putString(buf, c.PlaybackDevice)
}

func getAudioConfig(r *bytes.Reader) (AudioConfig, error) {
	var c AudioConfig
	var err error
	if c.SampleRate, err = getU32(r); err != nil {
		return c, err
	}
	if c.Channels, err = getU8(r); err != nil {
		return c, err
	}
	if c.FrameSize, err = getU32(r); err != nil {
		return c, err
	}
	scene, err := getU8(r)
	if err != nil {
		return c, err
	}
	c.Scene = Scene(scene)
	if c.BitrateBps, err = getU32(r); err != nil {
		return c, err
	}
	if c.VBR, err = getBool(r); err != nil {
		return c, err
	}
	if c.FEC, err = getBool(r); err != nil {
		return c, err
	}
	if c.CaptureDevice, err = getString(r); err != nil {
		return c, err
	}
	if c.PlaybackDevice, err = getString(r); err != nil {
		return c, err
	}
	return c, nil
}

func putCommand(buf *bytes.Buffer, c Command) {
	putU8(buf, uint8(c.Tag))
	switch c.Tag {
	case CmdShell:
		putString(buf, c.ShellText)
	case CmdGetInfo:
		// no fields
	case CmdPing:
		putI64(buf, c.PingTS)
	case CmdSetVolume:
		putU8(buf, c.SetVolumeVal)
	}
}

func getCommand(r *bytes.Reader) (Command, error) {
	var c Command
	tag, err := getU8(r)
	if err != nil {
		return c, err
	}
	c.Tag = CommandTag(tag)
	switch c.Tag {
	case CmdShell:
		c.ShellText, err = getString(r)
	case CmdGetInfo:
	case CmdPing:
		c.PingTS, err = getI64(r)
	case CmdSetVolume:
		c.SetVolumeVal, err = getU8(r)
	default:
		return c, fmt.Errorf("protocol: unknown command tag %d", tag)
	}
	return c, err
}

func putCommandResult(buf *bytes.Buffer, res CommandResult) {
	putU8(buf, uint8(res.Tag))
	switch res.Tag {
	case ResShell:
		putString(buf, res.Shell.Stdout)
		putString(buf, res.Shell.Stderr)
		putU32(buf, uint32(res.Shell.ExitCode))
	case ResDeviceInfo:
		putString(buf, res.Info.Model)
		putString(buf, res.Info.Serial)
		putString(buf, res.Info.Version)
		putString(buf, res.Info.AudioState)
		putU64(buf, res.Info.UptimeSeconds)
		putU64(buf, uint64(res.Info.CPUPercent*1000))
		putU64(buf, res.Info.MemUsedBytes)
		putU64(buf, res.Info.MemTotalBytes)
	case ResPong:
		putI64(buf, res.Pong.TS)
		putI64(buf, res.Pong.ServerTime)
	case ResVolume:
		putU8(buf, res.Volume.Prev)
		putU8(buf, res.Volume.Curr)
	case ResError:
		putU32(buf, uint32(res.Error.Code))
		putString(buf, res.Error.Message)
	}
}

func getCommandResult(r *bytes.Reader) (CommandResult, error) {
	var res CommandResult
	tag, err := getU8(r)
	if err != nil {
		return res, err
	}
	res.Tag = ResultTag(tag)
	switch res.Tag {
	case ResShell:
		if res.Shell.Stdout, err = getString(r); err != nil {
			return res, err
		}
		if res.Shell.Stderr, err = getString(r); err != nil {
			return res, err
		}
		var code uint32
		code, err = getU32(r)
		res.Shell.ExitCode = int32(code)
	case ResDeviceInfo:
		if res.Info.Model, err = getString(r); err != nil {
			return res, err
		}
		if res.Info.Serial, err = getString(r); err != nil {
			return res, err
		}
		if res.Info.Version, err = getString(r); err != nil {
			return res, err
		}
		if res.Info.AudioState, err = getString(r); err != nil {
			return res, err
		}
		if res.Info.UptimeSeconds, err = getU64(r); err != nil {
			return res, err
		}
		var cpu uint64
		if cpu, err = getU64(r); err != nil {
			return res, err
		}
		res.Info.CPUPercent = float64(cpu) / 1000
		if res.Info.MemUsedBytes, err = getU64(r); err != nil {
			return res, err
		}
		res.Info.MemTotalBytes, err = getU64(r)
	case ResPong:
		if res.Pong.TS, err = getI64(r); err != nil {
			return res, err
		}
		res.Pong.ServerTime, err = getI64(r)
	case ResVolume:
		if res.Volume.Prev, err = getU8(r); err != nil {
			return res, err
		}
		res.Volume.Curr, err = getU8(r)
	case ResError:
		var code uint32
		if code, err = getU32(r); err != nil {
			return res, err
		}
		res.Error.Code = int32(code)
		res.Error.Message, err = getString(r)
	default:
		return res, fmt.Errorf("protocol: unknown result tag %d", tag)
	}
	return res, err
}

// Encode serializes a ControlMessage to its compact binary body (no length
// prefix; see WriteFrame for the framed form).
func Encode(msg ControlMessage) ([]byte, error) {
	buf := &bytes.Buffer{}
	putU8(buf, uint8(msg.Tag))
	switch msg.Tag {
	case TagDiscovery:
		putBytes(buf, msg.Discovery.Raw)
	case TagServerHello:
		putString(buf, msg.ServerHello.AuthString)
		putString(buf, msg.ServerHello.Version)
		putU16(buf, msg.ServerHello.UDPPort)
	case TagClientHello:
		putString(buf, msg.ClientHello.AuthString)
		putString(buf, msg.ClientHello.Version)
		putU16(buf, msg.ClientHello.UDPPort)
		putString(buf, msg.ClientHello.Info.Model)
		putString(buf, msg.ClientHello.Info.Serial)
	case TagPing:
		putU32(buf, msg.Ping.Seq)
		putI64(buf, msg.Ping.T1)
	case TagPong:
		putU32(buf, msg.Pong.Seq)
		putI64(buf, msg.Pong.T1)
		putI64(buf, msg.Pong.T2)
	case TagRpcRequest:
		putU32(buf, msg.RpcRequest.ID)
		putCommand(buf, msg.RpcRequest.Command)
		putBool(buf, msg.RpcRequest.RunAsync)
		putBool(buf, msg.RpcRequest.HasTimeout)
		putU64(buf, msg.RpcRequest.TimeoutMs)
	case TagRpcResponse:
		putU32(buf, msg.RpcResponse.ID)
		putCommandResult(buf, msg.RpcResponse.Result)
	case TagEvent:
		putString(buf, msg.Event.Name)
		putBytes(buf, msg.Event.Data)
		putI64(buf, msg.Event.SenderTS)
		putString(buf, msg.Event.SourceTag)
	case TagStartRecording:
		putAudioConfig(buf, msg.StartRecording.Config)
	case TagStopRecording:
	case TagStartPlayback:
		putAudioConfig(buf, msg.StartPlayback.Config)
	case TagStopPlayback:
	default:
		return nil, fmt.Errorf("protocol: unknown message tag %d", msg.Tag)
	}
	return buf.Bytes(), nil
}

// Decode parses a ControlMessage body produced by Encode.
func Decode(body []byte) (ControlMessage, error) {
	r := bytes.NewReader(body)
	tagByte, err := getU8(r)
	if err != nil {
		return ControlMessage{}, err
	}
	msg := ControlMessage{Tag: Tag(tagByte)}
	switch msg.Tag {
	case TagDiscovery:
		msg.Discovery.Raw, err = getBytes(r)
	case TagServerHello:
		if msg.ServerHello.AuthString, err = getString(r); err != nil {
			break
		}
		if msg.ServerHello.Version, err = getString(r); err != nil {
			break
		}
		msg.ServerHello.UDPPort, err = getU16(r)
	case TagClientHello:
		if msg.ClientHello.AuthString, err = getString(r); err != nil {
			break
		}
		if msg.ClientHello.Version, err = getString(r); err != nil {
			break
		}
		if msg.ClientHello.UDPPort, err = getU16(r); err != nil {
			break
		}
		if msg.ClientHello.Info.Model, err = getString(r); err != nil {
			break
		}
		msg.ClientHello.Info.Serial, err = getString(r)
	case TagPing:
		if msg.Ping.Seq, err = getU32(r); err != nil {
			break
		}
		msg.Ping.T1, err = getI64(r)
	case TagPong:
		if msg.Pong.Seq, err = getU32(r); err != nil {
			break
		}
		if msg.Pong.T1, err = getI64(r); err != nil {
			break
		}
		msg.Pong.T2, err = getI64(r)
	case TagRpcRequest:
		if msg.RpcRequest.ID, err = getU32(r); err != nil {
			break
		}
		if msg.RpcRequest.Command, err = getCommand(r); err != nil {
			break
		}
		if msg.RpcRequest.RunAsync, err = getBool(r); err != nil {
			break
		}
		if msg.RpcRequest.HasTimeout, err = getBool(r); err != nil {
			break
		}
		msg.RpcRequest.TimeoutMs, err = getU64(r)
	case TagRpcResponse:
		if msg.RpcResponse.ID, err = getU32(r); err != nil {
			break
		}
		msg.RpcResponse.Result, err = getCommandResult(r)
	case TagEvent:
		if msg.Event.Name, err = getString(r); err != nil {
			break
		}
		if msg.Event.Data, err = getBytes(r); err != nil {
			break
		}
		if msg.Event.SenderTS, err = getI64(r); err != nil {
			break
		}
		msg.Event.SourceTag, err = getString(r)
	case TagStartRecording:
		msg.StartRecording.Config, err = getAudioConfig(r)
	case TagStopRecording:
	case TagStartPlayback:
		msg.StartPlayback.Config, err = getAudioConfig(r)
	case TagStopPlayback:
	default:
		return msg, fmt.Errorf("protocol: unknown message tag %d", tagByte)
	}
	return msg, err
}
