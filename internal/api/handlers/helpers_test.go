package handlers

import (
	"context"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/probe"
	"github.com/anstrom/portscope/internal/scanning"
	"github.com/anstrom/portscope/internal/services"
)

var testAddr = netip.MustParseAddr("192.0.2.10")

type exchangeFunc func(ctx context.Context, req probe.Request) (probe.Response, error)

// funcTransport is a scanning.Transport driven by a function.
type funcTransport struct {
	exchange exchangeFunc
}

func (t funcTransport) Exchange(ctx context.Context, req probe.Request) (probe.Response, error) {
	return t.exchange(ctx, req)
}

func (funcTransport) Reset(probe.Request, probe.Response) error { return nil }

func (funcTransport) Close() error { return nil }

type testResolver struct{}

func (testResolver) Resolve(_ context.Context, target string) (netip.Addr, error) {
	if target == "unresolvable.invalid" {
		return netip.Addr{}, errors.ErrTargetUnresolvable(target, context.DeadlineExceeded)
	}
	return testAddr, nil
}

// openOn answers SYN/ACK for the listed ports and RST for the rest.
func openOn(ports ...uint16) exchangeFunc {
	return func(_ context.Context, req probe.Request) (probe.Response, error) {
		if slices.Contains(ports, req.Port) {
			return probe.Response{Kind: probe.SynAck}, nil
		}
		return probe.Response{Kind: probe.Rst}, nil
	}
}

// blockUntilCancelled never answers.
func blockUntilCancelled(ctx context.Context, _ probe.Request) (probe.Response, error) {
	<-ctx.Done()
	return probe.Response{}, ctx.Err()
}

// gatedOpen answers like openOn once gate is closed.
func gatedOpen(gate <-chan struct{}, ports ...uint16) exchangeFunc {
	answer := openOn(ports...)
	return func(ctx context.Context, req probe.Request) (probe.Response, error) {
		select {
		case <-gate:
			return answer(ctx, req)
		case <-ctx.Done():
			return probe.Response{}, ctx.Err()
		}
	}
}

func newEngine(exchange exchangeFunc) *scanning.Engine {
	return scanning.NewEngine(
		scanning.WithLogger(logging.Discard()),
		scanning.WithResolver(testResolver{}),
		scanning.WithPrivilegeProbe(func() bool { return true }),
		scanning.WithTransportFactory(func(probe.Technique, netip.Addr, int, bool) (scanning.Transport, error) {
			return funcTransport{exchange: exchange}, nil
		}),
	)
}

var testDefaults = scanning.ScanConfig{
	Ports:       "1-4",
	Technique:   probe.Connect,
	Concurrency: 4,
	Timeout:     5 * time.Second,
	GracePeriod: 20 * time.Millisecond,
}

func newManager(t *testing.T, exchange exchangeFunc, capacity int, opts ...ManagerOption) *ScanManager {
	t.Helper()
	base := []ManagerOption{
		WithDefaults(testDefaults),
		WithManagerLogger(logging.Discard()),
	}
	m := NewScanManager(newEngine(exchange), scanning.NewFixedSessionLimiter(capacity), append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func waitFor(t *testing.T, m *ScanManager, id uuid.UUID) *ScanInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := m.Wait(ctx, id)
	require.NoError(t, err)
	return info
}

// memoryStore is an in-memory SessionStore.
type memoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*scanning.ScanSession
	saveErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[uuid.UUID]*scanning.ScanSession)}
}

func (s *memoryStore) Save(_ context.Context, session *scanning.ScanSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *memoryStore) Get(_ context.Context, id uuid.UUID) (*scanning.ScanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, errors.ErrNotFound("session", id.String())
	}
	return session, nil
}

func (s *memoryStore) saved(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	return ok
}

type stubDetector struct {
	calls int
	mu    sync.Mutex
}

func (d *stubDetector) Detect(_ context.Context, session *scanning.ScanSession) []services.ServiceInfo {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	var out []services.ServiceInfo
	for _, port := range session.OpenPorts() {
		out = append(out, services.ServiceInfo{
			Port:           port,
			Protocol:       probe.ProtocolTCP,
			Identification: services.Identification{Name: "test"},
		})
	}
	return out
}

func newTestRouter(m *ScanManager) *mux.Router {
	scans := NewScanHandler(m, logging.Discard(), 0)
	stream := NewStreamHandler(m, logging.Discard(), nil)

	r := mux.NewRouter()
	r.HandleFunc("/scans", scans.CreateScan).Methods("POST")
	r.HandleFunc("/scans", scans.ListScans).Methods("GET")
	r.HandleFunc("/scans/{id}", scans.GetScan).Methods("GET")
	r.HandleFunc("/scans/{id}", scans.CancelScan).Methods("DELETE")
	r.HandleFunc("/scans/{id}/diff/{other}", scans.DiffScans).Methods("GET")
	r.HandleFunc("/scans/{id}/ws", stream.ScanStream).Methods("GET")
	return r
}
