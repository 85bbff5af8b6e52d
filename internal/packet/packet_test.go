package packet

import (
	"encoding/hex"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

var (
	src4 = netip.MustParseAddr("192.168.1.10")
	dst4 = netip.MustParseAddr("10.0.0.1")
	src6 = netip.MustParseAddr("2001:db8::1")
	dst6 = netip.MustParseAddr("2001:db8::2")
)

func TestChecksumGoldenVectors(t *testing.T) {
	t.Run("ipv4 header", func(t *testing.T) {
		hdr, err := hex.DecodeString("450000730000400040110000c0a80001c0a800c7")
		require.NoError(t, err)
		assert.Equal(t, uint16(0xb861), Checksum(hdr))
	})

	t.Run("odd length", func(t *testing.T) {
		assert.Equal(t, uint16(0xfbfd), Checksum([]byte{0x01, 0x02, 0x03}))
	})

	t.Run("odd byte across chunks", func(t *testing.T) {
		whole := Checksum([]byte{0x01, 0x02, 0x03, 0x04, 0x05})
		split := Checksum([]byte{0x01}, []byte{0x02, 0x03}, []byte{0x04, 0x05})
		assert.Equal(t, whole, split)
	})

	t.Run("tcp syn over ipv4 pseudo-header", func(t *testing.T) {
		h := TCPHeader{SrcPort: 54321, DstPort: 80, Seq: 0x01020304, Flags: FlagSYN, Window: 1024}
		_, err := MarshalTCP(&h, src4, dst4, nil)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x07a8), h.Checksum)
	})

	t.Run("tcp with odd payload", func(t *testing.T) {
		h := TCPHeader{SrcPort: 40000, DstPort: 443, Seq: 0xdeadbeef, Ack: 0x11223344,
			Flags: FlagPSH | FlagACK, Window: 65535}
		_, err := MarshalTCP(&h, src4, dst4, []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, uint16(0x2043), h.Checksum)
	})

	t.Run("udp", func(t *testing.T) {
		h := UDPHeader{SrcPort: 5353, DstPort: 53}
		_, err := MarshalUDP(&h, src4, dst4, []byte("abcd"))
		require.NoError(t, err)
		assert.Equal(t, uint16(0x5a3e), h.Checksum)
		assert.Equal(t, uint16(12), h.Length)
	})

	t.Run("tcp fin over ipv6 pseudo-header", func(t *testing.T) {
		h := TCPHeader{SrcPort: 50000, DstPort: 22, Seq: 1, Flags: FlagFIN, Window: 1024}
		_, err := MarshalTCP(&h, src6, dst6, nil)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x8d07), h.Checksum)
	})
}

func TestIPv4GoldenHeader(t *testing.T) {
	h := IPv4Header{
		Flags:    IPv4DontFragment,
		TTL:      64,
		Protocol: ProtocolUDP,
		Src:      netip.MustParseAddr("192.168.0.1"),
		Dst:      netip.MustParseAddr("192.168.0.199"),
	}
	b, err := MarshalIPv4(&h, make([]byte, 0x73-IPv4HeaderLen))
	require.NoError(t, err)

	assert.Equal(t, "45000073000040004011b861c0a80001c0a800c7", hex.EncodeToString(b[:IPv4HeaderLen]))
	assert.Equal(t, uint16(0xb861), h.Checksum)
	assert.Zero(t, Checksum(b[:IPv4HeaderLen]), "header with checksum sums to zero")
}

func TestTCPRoundTrip(t *testing.T) {
	in := TCPHeader{
		SrcPort: 33000, DstPort: 8443, Seq: 42, Ack: 43,
		Flags: FlagFIN | FlagPSH | FlagURG, Window: 1024, Urgent: 7,
		Options: []byte{2, 4, 0x05, 0xb4}, // MSS 1460
	}
	b, err := MarshalTCP(&in, src4, dst4, []byte("data"))
	require.NoError(t, err)
	assert.True(t, VerifyTransportChecksum(src4, dst4, ProtocolTCP, b))

	out, payload, err := ParseTCP(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, []byte("data"), payload)
	assert.Equal(t, 24, out.Len())
	assert.True(t, out.Has(FlagFIN|FlagURG))
	assert.False(t, out.Has(FlagSYN))
}

func TestIPv4RoundTrip(t *testing.T) {
	tcp := TCPHeader{SrcPort: 40001, DstPort: 22, Seq: 9, Flags: FlagSYN, Window: 1024}
	seg, err := MarshalTCP(&tcp, src4, dst4, nil)
	require.NoError(t, err)

	in := IPv4Header{ID: 0xbeef, TTL: 64, Protocol: ProtocolTCP, Src: src4, Dst: dst4}
	b, err := MarshalIPv4(&in, seg)
	require.NoError(t, err)

	out, payload, err := ParseIPv4(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, seg, payload)
}

func TestIPv6RoundTrip(t *testing.T) {
	in := IPv6Header{TrafficClass: 0x20, FlowLabel: 0xabcde, NextHeader: ProtocolTCP, HopLimit: 64, Src: src6, Dst: dst6}
	b, err := MarshalIPv6(&in, []byte{1, 2, 3})
	require.NoError(t, err)

	out, payload, err := ParseIPv6(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, []byte{1, 2, 3}, payload)
}

func TestUDPRoundTrip(t *testing.T) {
	in := UDPHeader{SrcPort: 40000, DstPort: 161}
	b, err := MarshalUDP(&in, src6, dst6, []byte("snmp"))
	require.NoError(t, err)
	assert.True(t, VerifyTransportChecksum(src6, dst6, ProtocolUDP, b))

	out, payload, err := ParseUDP(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, []byte("snmp"), payload)
}

func TestParseErrors(t *testing.T) {
	_, _, err := ParseTCP(make([]byte, 19))
	assert.ErrorIs(t, err, ErrTruncated)

	bad := make([]byte, 20)
	bad[12] = 4 << 4
	_, _, err = ParseTCP(bad)
	assert.ErrorIs(t, err, ErrMalformed)

	long := make([]byte, 20)
	long[12] = 8 << 4
	_, _, err = ParseTCP(long)
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = ParseIPv4(make([]byte, 20))
	assert.ErrorIs(t, err, ErrMalformed, "version 0")

	_, _, err = ParseIPv6(make([]byte, 10))
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = ParseUDP([]byte{0, 1, 0, 2, 0, 3, 0, 0})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseICMP([]byte{3, 3})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = MarshalTCP(&TCPHeader{}, src4, dst6, nil)
	assert.ErrorIs(t, err, ErrAddressFamily)
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "none", FlagString(0))
	assert.Equal(t, "AS", FlagString(FlagSYN|FlagACK))
	assert.Equal(t, "UPF", FlagString(FlagFIN|FlagPSH|FlagURG))
	assert.Equal(t, "AR", FlagString(FlagRST|FlagACK))
}

// TestMatchesGopacket serializes the same datagram with gopacket and checks
// the bytes are identical.
func TestMatchesGopacket(t *testing.T) {
	payload := []byte("GET / HTTP/1.0\r\n\r\n")

	tcp := TCPHeader{SrcPort: 51000, DstPort: 80, Seq: 0x0badcafe, Ack: 0x01,
		Flags: FlagPSH | FlagACK, Window: 1024}
	seg, err := MarshalTCP(&tcp, src4, dst4, payload)
	require.NoError(t, err)
	ip := IPv4Header{ID: 0x1234, Flags: IPv4DontFragment, TTL: 64, Protocol: ProtocolTCP, Src: src4, Dst: dst4}
	ours, err := MarshalIPv4(&ip, seg)
	require.NoError(t, err)

	gip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		Id:       0x1234,
		Flags:    layers.IPv4DontFragment,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP(src4.AsSlice()),
		DstIP:    net.IP(dst4.AsSlice()),
	}
	gtcp := &layers.TCP{
		SrcPort:    layers.TCPPort(51000),
		DstPort:    layers.TCPPort(80),
		Seq:        0x0badcafe,
		Ack:        0x01,
		DataOffset: 5,
		PSH:        true,
		ACK:        true,
		Window:     1024,
	}
	require.NoError(t, gtcp.SetNetworkLayerForChecksum(gip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, gip, gtcp, gopacket.Payload(payload)))

	assert.Equal(t, hex.EncodeToString(buf.Bytes()), hex.EncodeToString(ours))

	// Decode gopacket's view of our bytes as well.
	pkt := gopacket.NewPacket(ours, layers.LayerTypeIPv4, gopacket.Default)
	decoded, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	require.True(t, ok)
	assert.Equal(t, tcp.Checksum, decoded.Checksum)
	assert.True(t, decoded.PSH && decoded.ACK)
}

func TestUDPMatchesGopacket(t *testing.T) {
	payload := []byte{0x1b, 0, 0, 0}

	udp := UDPHeader{SrcPort: 45000, DstPort: 123}
	ours, err := MarshalUDP(&udp, src6, dst6, payload)
	require.NoError(t, err)

	gip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolUDP,
		HopLimit:   64,
		SrcIP:      net.IP(src6.AsSlice()),
		DstIP:      net.IP(dst6.AsSlice()),
	}
	gudp := &layers.UDP{SrcPort: 45000, DstPort: 123}
	require.NoError(t, gudp.SetNetworkLayerForChecksum(gip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, gudp, gopacket.Payload(payload)))

	assert.Equal(t, buf.Bytes(), ours)
}

func quotedTCP(t *testing.T, src, dst netip.Addr, srcPort, dstPort uint16, seq uint32) []byte {
	t.Helper()
	tcp := TCPHeader{SrcPort: srcPort, DstPort: dstPort, Seq: seq, Flags: FlagSYN, Window: 1024}
	seg, err := MarshalTCP(&tcp, src, dst, nil)
	require.NoError(t, err)

	if src.Is4() {
		ip := IPv4Header{TTL: 64, Protocol: ProtocolTCP, Src: src, Dst: dst}
		b, err := MarshalIPv4(&ip, seg)
		require.NoError(t, err)
		return b[:IPv4HeaderLen+8]
	}
	ip := IPv6Header{NextHeader: ProtocolTCP, HopLimit: 64, Src: src, Dst: dst}
	b, err := MarshalIPv6(&ip, seg)
	require.NoError(t, err)
	return b[:IPv6HeaderLen+8]
}

func TestParseUnreachableV4(t *testing.T) {
	quoted := quotedTCP(t, src4, dst4, 40100, 443, 0xfeedface)
	msg := ICMPMessage{Type: ICMPv4DestUnreachable, Code: CodeAdminProhibited, Body: quoted}
	b := MarshalICMPv4(&msg)
	assert.Zero(t, Checksum(b))

	code, q, err := ParseUnreachable(b, false)
	require.NoError(t, err)
	assert.Equal(t, CodeAdminProhibited, code)
	assert.Equal(t, Quote{Protocol: ProtocolTCP, Src: src4, Dst: dst4, SrcPort: 40100, DstPort: 443, Seq: 0xfeedface}, q)

	// x/net/icmp sees the same message.
	parsed, err := icmp.ParseMessage(1, b)
	require.NoError(t, err)
	assert.Equal(t, ipv4.ICMPTypeDestinationUnreachable, parsed.Type)
	assert.Equal(t, int(CodeAdminProhibited), parsed.Code)
	body, ok := parsed.Body.(*icmp.DstUnreach)
	require.True(t, ok)
	assert.Equal(t, quoted, body.Data[:len(quoted)])
}

func TestParseUnreachableFromXNet(t *testing.T) {
	quoted := quotedTCP(t, src4, dst4, 40200, 53, 77)
	m := icmp.Message{
		Type: ipv4.ICMPTypeDestinationUnreachable,
		Code: int(CodePortUnreachable),
		Body: &icmp.DstUnreach{Data: quoted},
	}
	b, err := m.Marshal(nil)
	require.NoError(t, err)
	assert.Zero(t, Checksum(b), "x/net checksum agrees with ours")

	code, q, err := ParseUnreachable(b, false)
	require.NoError(t, err)
	assert.Equal(t, CodePortUnreachable, code)
	assert.Equal(t, uint16(40200), q.SrcPort)
	assert.Equal(t, uint16(53), q.DstPort)
	assert.Equal(t, uint32(77), q.Seq)

	_, _, err = ParseUnreachable(b, true)
	assert.ErrorIs(t, err, ErrNotUnreachable)
}

func TestParseUnreachableV6(t *testing.T) {
	quoted := quotedTCP(t, src6, dst6, 40300, 22, 5)
	m := icmp.Message{
		Type: ipv6.ICMPTypeDestinationUnreachable,
		Code: int(CodeV6PortUnreachable),
		Body: &icmp.DstUnreach{Data: quoted},
	}
	// The ICMPv6 checksum covers a pseudo-header from the replying router
	// back to the prober.
	b, err := m.Marshal(icmp.IPv6PseudoHeader(net.IP(dst6.AsSlice()), net.IP(src6.AsSlice())))
	require.NoError(t, err)
	assert.True(t, VerifyTransportChecksum(dst6, src6, ProtocolICMPv6, b))

	code, q, err := ParseUnreachable(b, true)
	require.NoError(t, err)
	assert.Equal(t, CodePortUnreachable, code, "normalized into ICMPv4 space")
	assert.Equal(t, src6, q.Src)
	assert.Equal(t, dst6, q.Dst)
	assert.Equal(t, uint16(40300), q.SrcPort)

	ours := ICMPMessage{Type: ICMPv6DestUnreachable, Code: CodeV6PortUnreachable, Body: quoted}
	ob, err := MarshalICMPv6(&ours, dst6, src6)
	require.NoError(t, err)
	assert.True(t, VerifyTransportChecksum(dst6, src6, ProtocolICMPv6, ob))
}

func TestNormalizeICMPv6Code(t *testing.T) {
	tests := map[uint8]uint8{
		CodeV6NoRoute:          CodeNetUnreachable,
		CodeV6AdminProhibited:  CodeAdminProhibited,
		CodeV6AddrUnreachable:  CodeHostUnreachable,
		CodeV6PortUnreachable:  CodePortUnreachable,
		CodeV6SourcePolicyFail: CodeAdminProhibited,
		42:                     42,
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeICMPv6Code(in), "code %d", in)
	}
}
