package services

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"strings"
	"time"
	"unicode"
)

const maxBannerBytes = 1024

// Identification is what a banner reveals about a service.
type Identification struct {
	Name    string `json:"name,omitempty"`
	Product string `json:"product,omitempty"`
	Version string `json:"version,omitempty"`
}

// probeFor returns the bytes sent to provoke a banner, or nil for services
// that greet first.
func probeFor(port uint16) []byte {
	switch port {
	case 80, 8000, 8080, 8888:
		return []byte("GET / HTTP/1.0\r\n\r\n")
	case 25, 465, 587:
		return []byte("EHLO portscope\r\n")
	case 6379:
		return []byte("PING\r\n")
	}
	return nil
}

// GrabBanner connects to addr, sends the probe for its port and returns
// the first bytes the service answers with, trimmed. It returns "" when the
// service stays silent within timeout.
func GrabBanner(ctx context.Context, addr netip.AddrPort, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if p := probeFor(addr.Port()); p != nil {
		if _, err := conn.Write(p); err != nil {
			return "", err
		}
	}

	buf := make([]byte, maxBannerBytes)
	n, err := conn.Read(buf)
	if n == 0 {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", nil
		}
		return "", err
	}
	return sanitize(buf[:n]), nil
}

// sanitize trims a raw banner and replaces invalid UTF-8 so that it can be
// stored and printed.
func sanitize(b []byte) string {
	return strings.TrimSpace(string(bytes.ToValidUTF8(b, []byte("\uFFFD"))))
}

// Identify recognizes a service from its banner, falling back to the
// port's default name.
func Identify(port uint16, banner string) Identification {
	if banner != "" {
		if id, ok := identifyBanner(banner); ok {
			return id
		}
	}
	return Identification{Name: tcpServices[port]}
}

func identifyBanner(b string) (Identification, bool) {
	lower := strings.ToLower(b)

	switch {
	case strings.HasPrefix(b, "SSH-"):
		return identifySSH(b), true

	case strings.HasPrefix(b, "HTTP/"):
		return Identification{Name: "http", Product: httpServer(b)}, true

	case strings.HasPrefix(b, "220") && containsAny(lower, "ftp", "filezilla", "vsftpd"):
		v := afterFirstSpace(b)
		return Identification{Name: "ftp", Product: v, Version: v}, true

	case strings.HasPrefix(b, "220") && containsAny(lower, "smtp", "esmtp", "postfix", "sendmail"):
		return Identification{Name: "smtp", Product: smtpServer(b)}, true

	case strings.Contains(b, "mysql") || (len(b) > 4 && b[4] == 0x0a):
		return Identification{Name: "mysql", Product: "MySQL", Version: leadingVersion(b)}, true

	case strings.HasPrefix(b, "+PONG"):
		return Identification{Name: "redis", Product: "Redis"}, true

	case strings.Contains(lower, "postgresql"):
		return Identification{Name: "postgresql", Product: "PostgreSQL"}, true

	case strings.Contains(lower, "mongodb") || strings.Contains(b, "ismaster"):
		return Identification{Name: "mongodb", Product: "MongoDB"}, true
	}
	return Identification{}, false
}

// identifySSH parses "SSH-2.0-OpenSSH_9.6p1 Ubuntu-3".
func identifySSH(b string) Identification {
	id := Identification{Name: "ssh"}
	line, _, _ := strings.Cut(b, "\n")
	parts := strings.SplitN(strings.TrimSpace(line), "-", 3)
	if len(parts) < 3 {
		return id
	}
	software, _, _ := strings.Cut(parts[2], " ")
	if product, version, ok := strings.Cut(software, "_"); ok {
		id.Product, id.Version = product, version
	} else {
		id.Product = software
	}
	return id
}

func httpServer(b string) string {
	for _, line := range strings.Split(b, "\n") {
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "server") {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func smtpServer(b string) string {
	line, _, _ := strings.Cut(b, "\n")
	if len(line) <= 4 {
		return ""
	}
	return strings.TrimSpace(line[4:])
}

func afterFirstSpace(b string) string {
	line, _, _ := strings.Cut(b, "\n")
	_, rest, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(rest)
}

// leadingVersion extracts the first dotted number, as in a MySQL greeting.
func leadingVersion(b string) string {
	start := strings.IndexFunc(b, unicode.IsDigit)
	if start < 0 {
		return ""
	}
	end := start
	for end < len(b) && (b[end] == '.' || (b[end] >= '0' && b[end] <= '9')) {
		end++
	}
	return strings.Trim(b[start:end], ".")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
