package transport

import (
	"fmt"
	"net"
	"net/netip"
)

// LocalAddrFor returns the source address the kernel would use to reach
// target. Connecting a UDP socket performs the route lookup without
// sending anything.
func LocalAddrFor(target netip.Addr) (netip.Addr, error) {
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(netip.AddrPortFrom(target.Unmap(), 9)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("no route to %s: %w", target, err)
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return local.AddrPort().Addr().Unmap(), nil
}
