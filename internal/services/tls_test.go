package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	stdtls "crypto/tls"
	stdx509 "crypto/x509"
	stdpkix "crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zmap/zcrypto/x509/pkix"
)

func selfSigned(t *testing.T, notAfter time.Time) stdtls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &stdx509.Certificate{
		SerialNumber: big.NewInt(4242),
		Subject: stdpkix.Name{
			CommonName:   "portscope.test",
			Organization: []string{"Portscope Test"},
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    notAfter,
		DNSNames:    []string{"portscope.test", "www.portscope.test"},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:    stdx509.KeyUsageDigitalSignature,
		ExtKeyUsage: []stdx509.ExtKeyUsage{stdx509.ExtKeyUsageServerAuth},
	}
	der, err := stdx509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return stdtls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestInspectTLS(t *testing.T) {
	cert := selfSigned(t, time.Now().Add(30*24*time.Hour+time.Hour))
	ln, err := stdtls.Listen("tcp", "127.0.0.1:0", &stdtls.Config{
		Certificates: []stdtls.Certificate{cert},
		MaxVersion:   stdtls.VersionTLS12,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_ = conn.(*stdtls.Conn).Handshake()
			}()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr).AddrPort()
	info := InspectTLS(context.Background(), addr, "portscope.test", 2*time.Second)

	require.Empty(t, info.Errors)
	assert.Equal(t, addr.Port(), info.Port)
	assert.Equal(t, "TLS 1.2", info.Version)
	assert.NotEmpty(t, info.CipherSuite)
	assert.Equal(t, 1, info.ChainLength)

	require.NotNil(t, info.Certificate)
	c := info.Certificate
	assert.Equal(t, "CN=portscope.test, O=Portscope Test", c.Subject)
	assert.Equal(t, c.Subject, c.Issuer)
	assert.Equal(t, "4242", c.SerialNumber)
	assert.False(t, c.Expired)
	assert.Equal(t, 30, c.DaysUntilExpiry)
	assert.Equal(t, []string{"portscope.test", "www.portscope.test", "127.0.0.1"}, c.SANs)
	assert.NotEmpty(t, c.SignatureAlgorithm)
	assert.NotEmpty(t, c.PublicKeyAlgorithm)
}

func TestInspectTLSPlaintextService(t *testing.T) {
	addr := serve(t, func(c net.Conn) {
		_, _ = c.Write([]byte("SSH-2.0-OpenSSH_9.6\r\n"))
		time.Sleep(100 * time.Millisecond)
	})

	info := InspectTLS(context.Background(), addr, "", time.Second)
	assert.NotEmpty(t, info.Errors)
	assert.Nil(t, info.Certificate)
	assert.Empty(t, info.Version)
}

func TestInspectTLSConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr).AddrPort()
	require.NoError(t, ln.Close())

	info := InspectTLS(context.Background(), addr, "", time.Second)
	require.Len(t, info.Errors, 1)
	assert.Contains(t, info.Errors[0], "connect")
}

func TestNameString(t *testing.T) {
	n := pkix.Name{
		CommonName:         "db.internal",
		OrganizationalUnit: []string{"Ops"},
		Organization:       []string{"Example"},
		Country:            []string{"SE"},
	}
	assert.Equal(t, "CN=db.internal, OU=Ops, O=Example, C=SE", nameString(n))
	assert.Empty(t, nameString(pkix.Name{}))
}
