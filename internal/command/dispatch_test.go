package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaolink/xiaolink/internal/protocol"
)

func TestDispatchPingEchoesTimestampAndAddsServerTime(t *testing.T) {
	d := &Dispatcher{Volume: NewVolumeStore(0)}
	result := d.Dispatch(context.Background(), protocol.Command{Tag: protocol.CmdPing, PingTS: 12345})
	require.Equal(t, protocol.ResPong, result.Tag)
	require.Equal(t, int64(12345), result.Pong.TS)
	require.NotZero(t, result.Pong.ServerTime)
}

func TestDispatchSetVolumeClampsAndReturnsPrev(t *testing.T) {
	d := &Dispatcher{Volume: NewVolumeStore(40)}

	r1 := d.Dispatch(context.Background(), protocol.Command{Tag: protocol.CmdSetVolume, SetVolumeVal: 70})
	require.Equal(t, uint8(40), r1.Volume.Prev)
	require.Equal(t, uint8(70), r1.Volume.Curr)

	r2 := d.Dispatch(context.Background(), protocol.Command{Tag: protocol.CmdSetVolume, SetVolumeVal: 255})
	require.Equal(t, uint8(70), r2.Volume.Prev)
	require.Equal(t, uint8(100), r2.Volume.Curr, "volume must clamp to 100")
}

func TestDispatchUnknownCommandReturnsNotImplemented(t *testing.T) {
	d := &Dispatcher{Volume: NewVolumeStore(0)}
	result := d.Dispatch(context.Background(), protocol.Command{Tag: protocol.CommandTag(99)})
	require.Equal(t, protocol.ResError, result.Tag)
	require.Equal(t, int32(-501), result.Error.Code)
}

func TestDispatchShellCapturesStdoutAndExitCode(t *testing.T) {
	d := &Dispatcher{Volume: NewVolumeStore(0)}
	result := d.Dispatch(context.Background(), protocol.Command{Tag: protocol.CmdShell, ShellText: "echo hello"})
	require.Equal(t, protocol.ResShell, result.Tag)
	require.Equal(t, "hello\n", result.Shell.Stdout)
	require.Equal(t, int32(0), result.Shell.ExitCode)
}

func TestDispatchShellTimesOutAndKillsChild(t *testing.T) {
	d := &Dispatcher{Volume: NewVolumeStore(0)}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := d.Dispatch(ctx, protocol.Command{Tag: protocol.CmdShell, ShellText: "sleep 2"})
	require.Equal(t, protocol.ResError, result.Tag)
	require.Equal(t, int32(-408), result.Error.Code)
}

func TestDispatchGetInfoPopulatesDeviceInfo(t *testing.T) {
	d := &Dispatcher{Model: "xiao-1", Serial: "abc123", Version: "1.0.0", Volume: NewVolumeStore(0), StartedAt: time.Now().Add(-time.Minute)}
	result := d.Dispatch(context.Background(), protocol.Command{Tag: protocol.CmdGetInfo})
	require.Equal(t, protocol.ResDeviceInfo, result.Tag)
	require.Equal(t, "xiao-1", result.Info.Model)
	require.Equal(t, "abc123", result.Info.Serial)
	require.GreaterOrEqual(t, result.Info.UptimeSeconds, uint64(59))
}
