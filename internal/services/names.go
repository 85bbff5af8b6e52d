// Package services identifies what runs on the open ports of a finished
// scan session. It grabs banners with protocol-specific probes, falls back
// to well-known port names and inspects TLS endpoints.
package services

import "github.com/anstrom/portscope/internal/probe"

var tcpServices = map[uint16]string{
	20:    "ftp-data",
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "dns",
	80:    "http",
	110:   "pop3",
	111:   "rpcbind",
	135:   "msrpc",
	139:   "netbios-ssn",
	143:   "imap",
	443:   "https",
	445:   "microsoft-ds",
	465:   "smtps",
	587:   "submission",
	636:   "ldaps",
	993:   "imaps",
	995:   "pop3s",
	1433:  "ms-sql-s",
	1521:  "oracle",
	3306:  "mysql",
	3389:  "ms-wbt-server",
	5432:  "postgresql",
	5900:  "vnc",
	6379:  "redis",
	8080:  "http-proxy",
	8443:  "https-alt",
	9200:  "elasticsearch",
	11211: "memcached",
	27017: "mongodb",
}

var udpServices = map[uint16]string{
	53:   "dns",
	67:   "dhcps",
	68:   "dhcpc",
	69:   "tftp",
	123:  "ntp",
	137:  "netbios-ns",
	138:  "netbios-dgm",
	161:  "snmp",
	162:  "snmptrap",
	500:  "isakmp",
	514:  "syslog",
	520:  "route",
	1900: "upnp",
	4500: "nat-t-ike",
	5353: "mdns",
}

// DefaultName returns the conventional service name for a port, or "" when
// none is known.
func DefaultName(port uint16, protocol probe.Protocol) string {
	if protocol == probe.ProtocolUDP {
		return udpServices[port]
	}
	return tcpServices[port]
}
