//go:build !unix

package discovery

import (
	"net"
	"syscall"
)

// enableBroadcast is a no-op on non-Unix platforms; Go's UDP sockets there
// already permit broadcast sends without an explicit opt-in.
func enableBroadcast(conn *net.UDPConn) error { return nil }

func reuseAddrControl(_, _ string, _ syscall.RawConn) error { return nil }
