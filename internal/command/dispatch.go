// Package command implements spec.md §4.5's RPC command dispatch: Shell,
// GetInfo, Ping, and SetVolume, each mapped onto protocol.Command /
// protocol.CommandResult. Shell execution is grounded on the Rust
// original's tokio::process::Command pattern (spawn, capture stdout/stderr
// concurrently, SIGKILL on timeout), reworked around os/exec and
// context.Context. GetInfo is grounded on
// _examples/madpsy-ka9q_ubersdr/instance_reporter.go's gopsutil usage.
package command

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/xiaolink/xiaolink/internal/protocol"
	"github.com/xiaolink/xiaolink/internal/xerr"
)

// AudioStater reports the current audio pipeline state string for GetInfo.
type AudioStater interface {
	AudioState() string
}

// VolumeStore holds the device's current output volume, shared with
// whatever component actually applies it to the audio device.
type VolumeStore struct {
	mu  sync.Mutex
	cur uint8
}

// NewVolumeStore returns a VolumeStore initialized to vol (already clamped
// by the caller).
func NewVolumeStore(vol uint8) *VolumeStore {
	return &VolumeStore{cur: vol}
}

// Set clamps v to [0,100], stores it, and returns the previous value.
func (s *VolumeStore) Set(v uint8) (prev, curr uint8) {
	if v > 100 {
		v = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev = s.cur
	s.cur = v
	return prev, s.cur
}

// Get returns the current volume.
func (s *VolumeStore) Get() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Dispatcher executes Command values against local device state.
type Dispatcher struct {
	Model      string
	Serial     string
	Version    string
	AudioState AudioStater
	Volume     *VolumeStore
	StartedAt  time.Time
}

// Dispatch runs cmd, honoring ctx's deadline for Shell (spec.md §4.5,
// §4.13: "caller-specified via RPC; child is force-killed on timeout").
func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command) protocol.CommandResult {
	switch cmd.Tag {
	case protocol.CmdShell:
		return d.runShell(ctx, cmd.ShellText)
	case protocol.CmdGetInfo:
		return d.getInfo()
	case protocol.CmdPing:
		return protocol.CommandResult{
			Tag:  protocol.ResPong,
			Pong: protocol.PongResult{TS: cmd.PingTS, ServerTime: time.Now().UnixMicro()},
		}
	case protocol.CmdSetVolume:
		prev, curr := d.Volume.Set(cmd.SetVolumeVal)
		return protocol.CommandResult{Tag: protocol.ResVolume, Volume: protocol.VolumeResult{Prev: prev, Curr: curr}}
	default:
		return protocol.ErrResult(xerr.CodeNotImplemented, "unknown command")
	}
}

func (d *Dispatcher) runShell(ctx context.Context, text string) protocol.CommandResult {
	cmd := exec.CommandContext(ctx, "sh", "-c", text)
	cmd.Cancel = func() error {
		return cmd.Process.Kill() // SIGKILL, matching spec.md's "force-killed" timeout behavior
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return protocol.ErrResult(xerr.CodeTimeout, "shell command timed out")
	}

	exitCode := int32(0)
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = int32(exitErr.ExitCode())
	} else if err != nil {
		return protocol.ErrResult(xerr.CodeInternal, "shell command failed to start: "+err.Error())
	}

	return protocol.CommandResult{
		Tag: protocol.ResShell,
		Shell: protocol.ShellResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: exitCode,
		},
	}
}

func (d *Dispatcher) getInfo() protocol.CommandResult {
	info := protocol.DeviceInfo{
		Model:   d.Model,
		Serial:  d.Serial,
		Version: d.Version,
	}
	if d.AudioState != nil {
		info.AudioState = d.AudioState.AudioState()
	}
	if !d.StartedAt.IsZero() {
		info.UptimeSeconds = uint64(time.Since(d.StartedAt).Seconds())
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemUsedBytes = vm.Used
		info.MemTotalBytes = vm.Total
	}
	if info.UptimeSeconds == 0 {
		if uptime, err := host.Uptime(); err == nil {
			info.UptimeSeconds = uptime
		}
	}
	return protocol.CommandResult{Tag: protocol.ResDeviceInfo, Info: info}
}
