//go:build unix

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// CanOpenRawSockets reports whether the process may open raw sockets. Root
// always may; otherwise a capability such as CAP_NET_RAW is detected by
// opening a throwaway raw socket.
func CanOpenRawSockets() bool {
	if unix.Geteuid() == 0 {
		return true
	}
	c, err := net.ListenPacket("ip4:tcp", "127.0.0.1")
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}
