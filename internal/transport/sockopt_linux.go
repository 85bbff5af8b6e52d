//go:build linux

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// setHeaderInclude turns on IP_HDRINCL so outbound probes carry the IPv4
// header built by the packet codec.
func setHeaderInclude(c *net.IPConn) (bool, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return false, err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_HDRINCL, 1)
	}); err != nil {
		return false, err
	}
	if serr != nil {
		return false, serr
	}
	return true, nil
}
