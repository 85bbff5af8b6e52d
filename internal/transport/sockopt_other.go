//go:build !linux

package transport

import "net"

// setHeaderInclude leaves the IPv4 header to the kernel on platforms where
// header-included raw sockets differ in byte order and semantics.
func setHeaderInclude(*net.IPConn) (bool, error) {
	return false, nil
}
