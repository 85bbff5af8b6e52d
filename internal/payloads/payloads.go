// Package payloads holds protocol-specific datagrams sent by UDP probes to
// well-known ports. Services such as DNS or SNMP ignore an empty datagram,
// so a valid request is the only way to make an open port answer.
package payloads

import (
	"slices"
	"sync"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"
)

const (
	portDNS     = 53
	portNTP     = 123
	portNetBIOS = 137
	portSNMP    = 161
	portSSDP    = 1900
	portMDNS    = 5353
)

// sysDescr.0
const sysDescrOID = ".1.3.6.1.2.1.1.1.0"

var (
	once  sync.Once
	table map[uint16][]byte
)

func build() {
	table = map[uint16][]byte{
		portNTP:     ntpRequest(),
		portNetBIOS: netbiosNodeStatus(),
		portSSDP:    []byte("M-SEARCH * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nMAN: \"ssdp:discover\"\r\nMX: 1\r\nST: ssdp:all\r\n\r\n"),
	}
	if b, err := dnsVersionBind(); err == nil {
		table[portDNS] = b
	}
	if b, err := mdnsServices(); err == nil {
		table[portMDNS] = b
	}
	if b, err := snmpGetSysDescr(); err == nil {
		table[portSNMP] = b
	}
}

// For returns the payload for port, or nil when the port has none and an
// empty datagram should be sent. The slice is a copy.
func For(port uint16) []byte {
	once.Do(build)
	return slices.Clone(table[port])
}

// Ports lists the ports that have a dedicated payload, ascending.
func Ports() []uint16 {
	once.Do(build)
	ports := make([]uint16, 0, len(table))
	for p := range table {
		ports = append(ports, p)
	}
	slices.Sort(ports)
	return ports
}

// dnsVersionBind asks for the CHAOS TXT record version.bind, which most
// resolvers answer even when recursion is refused.
func dnsVersionBind() ([]byte, error) {
	m := new(dns.Msg)
	m.Id = dns.Id()
	m.Question = []dns.Question{{Name: "version.bind.", Qtype: dns.TypeTXT, Qclass: dns.ClassCHAOS}}
	return m.Pack()
}

func mdnsServices() ([]byte, error) {
	m := new(dns.Msg)
	m.SetQuestion("_services._dns-sd._udp.local.", dns.TypePTR)
	m.Id = 0
	m.RecursionDesired = false
	return m.Pack()
}

func snmpGetSysDescr() ([]byte, error) {
	pkt := &gosnmp.SnmpPacket{
		Version:   gosnmp.Version2c,
		Community: "public",
		PDUType:   gosnmp.GetRequest,
		RequestID: 1,
		Variables: []gosnmp.SnmpPDU{{Name: sysDescrOID, Type: gosnmp.Null}},
	}
	return pkt.MarshalMsg()
}

// ntpRequest is an NTPv3 client-mode packet.
func ntpRequest() []byte {
	b := make([]byte, 48)
	b[0] = 0x1b // LI 0, VN 3, mode 3
	return b
}

// netbiosNodeStatus is an NBSTAT query for the wildcard name "*".
func netbiosNodeStatus() []byte {
	b := []byte{
		0x80, 0xf0, // transaction id
		0x00, 0x10, // flags
		0x00, 0x01, // questions
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x20, // encoded name length
	}
	b = append(b, "CKAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"...)
	b = append(b, 0x00, 0x00, 0x21, 0x00, 0x01) // NBSTAT, IN
	return b
}
