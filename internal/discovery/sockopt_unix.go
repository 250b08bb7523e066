//go:build unix

package discovery

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// enableBroadcast sets SO_BROADCAST on the UDP socket backing conn so that
// sends to 255.255.255.255 succeed (spec.md §4.2: "bind ephemeral UDP
// socket with broadcast enabled"). Go's net package has no portable
// broadcast knob, so this reaches into the raw socket via SyscallConn,
// following the same pattern used for low-level socket tuning elsewhere in
// the example pack (madpsy-ka9q_ubersdr's raw-socket clients).
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// reuseAddrControl is a net.ListenConfig.Control hook that sets
// SO_REUSEADDR on the socket before it binds, letting the discovery
// responder rebind its port promptly after a restart (TIME_WAIT would
// otherwise hold the port for the OS's wait interval). SO_REUSEADDR has
// no effect set after bind, so unlike enableBroadcast this must run via
// ListenConfig rather than on the already-bound *net.UDPConn — grounded
// on madpsy-ka9q_ubersdr's setupDataSocket, which sets its reuse options
// the same way.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
