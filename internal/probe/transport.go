package probe

import "context"

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks github.com/anstrom/portscope/internal/probe Transport

// Transport sends probes and correlates their responses.
//
// Exchange sends req and blocks until a matching response arrives or ctx is
// done, in which case it returns ctx.Err(). Any other error means the probe
// could not be sent. Implementations must be safe for concurrent use.
//
// Reset tears down a half-open handshake after a SYN/ACK.
type Transport interface {
	Exchange(ctx context.Context, req Request) (Response, error)
	Reset(req Request, resp Response) error
}
