package services

import (
	"context"
	stdtls "crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/zmap/zcrypto/tls"
	"github.com/zmap/zcrypto/x509"
	"github.com/zmap/zcrypto/x509/pkix"
)

// TLSPorts are inspected for TLS when TLS inspection is enabled.
var TLSPorts = map[uint16]bool{
	443:  true,
	465:  true,
	636:  true,
	993:  true,
	995:  true,
	8443: true,
}

// CertificateInfo describes the leaf certificate of a TLS endpoint.
type CertificateInfo struct {
	Subject            string    `json:"subject"`
	Issuer             string    `json:"issuer"`
	SerialNumber       string    `json:"serial_number"`
	NotBefore          time.Time `json:"not_before"`
	NotAfter           time.Time `json:"not_after"`
	Expired            bool      `json:"expired"`
	DaysUntilExpiry    int       `json:"days_until_expiry"`
	SANs               []string  `json:"sans,omitempty"`
	SignatureAlgorithm string    `json:"signature_algorithm"`
	PublicKeyAlgorithm string    `json:"public_key_algorithm"`
}

// TLSInfo is the outcome of inspecting one port.
type TLSInfo struct {
	Port        uint16           `json:"port"`
	Version     string           `json:"version,omitempty"`
	CipherSuite string           `json:"cipher_suite,omitempty"`
	Certificate *CertificateInfo `json:"certificate,omitempty"`
	ChainLength int              `json:"chain_length"`
	Errors      []string         `json:"errors,omitempty"`
}

// InspectTLS performs a TLS handshake with addr and reports the negotiated
// parameters and the presented certificate. The chain is not verified;
// handshake failures are recorded in Errors rather than returned.
func InspectTLS(ctx context.Context, addr netip.AddrPort, serverName string, timeout time.Duration) TLSInfo {
	info := TLSInfo{Port: addr.Port()}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		info.Errors = append(info.Errors, fmt.Sprintf("connect: %v", err))
		return info
	}
	defer raw.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}

	cfg := &tls.Config{
		// #nosec G402 - inspection must see certificates that do not verify
		InsecureSkipVerify: true,
		ServerName:         serverName,
	}
	conn := tls.Client(raw, cfg)
	if err := conn.Handshake(); err != nil {
		info.Errors = append(info.Errors, fmt.Sprintf("handshake: %v", err))
		return info
	}

	state := conn.ConnectionState()
	info.Version = stdtls.VersionName(state.Version)
	info.CipherSuite = stdtls.CipherSuiteName(state.CipherSuite)
	info.ChainLength = len(state.PeerCertificates)
	if len(state.PeerCertificates) > 0 {
		info.Certificate = describeCertificate(state.PeerCertificates[0], time.Now())
	}
	return info
}

func describeCertificate(cert *x509.Certificate, now time.Time) *CertificateInfo {
	sans := append([]string(nil), cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		sans = append(sans, ip.String())
	}

	serial := ""
	if cert.SerialNumber != nil {
		serial = cert.SerialNumber.String()
	}

	return &CertificateInfo{
		Subject:            nameString(cert.Subject),
		Issuer:             nameString(cert.Issuer),
		SerialNumber:       serial,
		NotBefore:          cert.NotBefore.UTC(),
		NotAfter:           cert.NotAfter.UTC(),
		Expired:            now.After(cert.NotAfter),
		DaysUntilExpiry:    int(cert.NotAfter.Sub(now).Hours() / 24),
		SANs:               sans,
		SignatureAlgorithm: fmt.Sprint(cert.SignatureAlgorithm),
		PublicKeyAlgorithm: fmt.Sprint(cert.PublicKeyAlgorithm),
	}
}

// nameString renders the common attributes of a distinguished name,
// most specific first.
func nameString(n pkix.Name) string {
	var parts []string
	add := func(key string, values ...string) {
		for _, v := range values {
			if v != "" {
				parts = append(parts, key+"="+v)
			}
		}
	}
	add("CN", n.CommonName)
	add("OU", n.OrganizationalUnit...)
	add("O", n.Organization...)
	add("L", n.Locality...)
	add("ST", n.Province...)
	add("C", n.Country...)
	return strings.Join(parts, ", ")
}
