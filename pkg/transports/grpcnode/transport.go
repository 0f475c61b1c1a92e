package grpcnode

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ledgerexec/ledgerexec/pkg/engine"
	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/network"
	"github.com/ledgerexec/ledgerexec/pkg/telemetry"
)

// AddressBook resolves node accounts to dial addresses.
type AddressBook interface {
	Lookup(id entity.ID) (network.Node, error)
}

// Config holds transport settings.
type Config struct {
	// MaxMsgBytes sets both send and receive limits when non-zero.
	MaxMsgBytes int

	// RequestsPerSecond limits calls per node. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the token bucket size for each node.
	Burst int

	// LimiterIdleTTL evicts per-node limiters unused for this long.
	LimiterIdleTTL time.Duration
}

// DefaultConfig returns a Config with no rate limit and 4 MiB messages.
func DefaultConfig() Config {
	return Config{
		MaxMsgBytes:    4 << 20,
		Burst:          1,
		LimiterIdleTTL: 10 * time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MaxMsgBytes < 0 {
		return fmt.Errorf("max message bytes must not be negative, got: %d", c.MaxMsgBytes)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second must not be negative, got: %v", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1 when rate limiting, got: %d", c.Burst)
	}
	return nil
}

// Option configures a Transport.
type Option func(*Transport)

// WithDialOptions appends gRPC dial options, replacing nothing.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(t *Transport) {
		t.dialOpts = append(t.dialOpts, opts...)
	}
}

// WithLogger sets the logger used for connection events.
func WithLogger(l *telemetry.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// Transport implements engine.Transport over gRPC with one client
// connection per node address.
type Transport struct {
	cfg      Config
	book     AddressBook
	limiter  *nodeLimiter
	dialOpts []grpc.DialOption
	logger   *telemetry.Logger

	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	closed atomic.Bool
}

var _ engine.Transport = (*Transport)(nil)

// New creates a transport resolving nodes through book. Connections are
// opened lazily on first use.
func New(cfg Config, book AddressBook, opts ...Option) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}
	if book == nil {
		return nil, fmt.Errorf("address book is required")
	}

	t := &Transport{
		cfg:     cfg,
		book:    book,
		limiter: newNodeLimiter(cfg.RequestsPerSecond, cfg.Burst, cfg.LimiterIdleTTL),
		dialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
		logger: telemetry.NewNopLogger(),
		conns:  make(map[string]*grpc.ClientConn),
	}
	if cfg.MaxMsgBytes > 0 {
		t.dialOpts = append(t.dialOpts, grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(cfg.MaxMsgBytes),
			grpc.MaxCallSendMsgSize(cfg.MaxMsgBytes),
		))
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.NewComponentLogger("grpcnode")
	return t, nil
}

// Send implements engine.Transport.
func (t *Transport) Send(ctx context.Context, node entity.ID, method engine.Method, request []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	n, err := t.book.Lookup(node)
	if err != nil {
		return nil, &TransportError{Op: "resolve", Node: node, Err: err}
	}
	if err := t.limiter.Wait(ctx, n.Address); err != nil {
		return nil, &TransportError{Op: "limit", Node: node, Err: err}
	}
	cc, err := t.conn(n.Address)
	if err != nil {
		return nil, &TransportError{Op: "dial", Node: node, Err: err}
	}

	out := new(wrapperspb.BytesValue)
	if err := cc.Invoke(ctx, method.FullName(), wrapperspb.Bytes(request), out); err != nil {
		return nil, &TransportError{Op: "invoke", Node: node, Err: err}
	}
	return out.GetValue(), nil
}

func (t *Transport) conn(addr string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if cc, ok := t.conns[addr]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(addr, t.dialOpts...)
	if err != nil {
		return nil, err
	}
	t.conns[addr] = cc
	t.logger.WithField("address", addr).Debug("opened node connection")
	return cc, nil
}

// Prune closes connections to addresses not in keep. Called after the node
// list changes.
func (t *Transport) Prune(keep []string) {
	want := make(map[string]struct{}, len(keep))
	for _, a := range keep {
		want[a] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, cc := range t.conns {
		if _, ok := want[addr]; ok {
			continue
		}
		delete(t.conns, addr)
		if err := cc.Close(); err != nil {
			t.logger.WithError(err).WithField("address", addr).Warn("failed to close node connection")
		}
	}
}

// Close closes every connection. Send fails with ErrClosed afterwards.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var first error
	for addr, cc := range t.conns {
		if err := cc.Close(); err != nil && first == nil {
			first = err
		}
		delete(t.conns, addr)
	}
	return first
}

// Conns returns the number of open connections.
func (t *Transport) Conns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
