package grpcnode

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ledgerexec/ledgerexec/pkg/engine"
	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/network"
)

const testService = "proto.TestService"

var (
	echoMethod  = engine.Method{Service: testService, Name: "echo"}
	failMethod  = engine.Method{Service: testService, Name: "fail"}
	testNodeID  = entity.Account(0, 0, 3)
	bufnetAddr  = "passthrough:///bufnet"
	testMethods = []string{"echo", "fail"}
)

func startServer(t *testing.T) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	Register(srv, testService, testMethods, HandlerFunc(func(_ context.Context, method string, req []byte) ([]byte, error) {
		if method == "fail" {
			return nil, status.Error(codes.Unavailable, "node restarting")
		}
		return append([]byte(method+":"), req...), nil
	}))
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)
	return lis
}

func newTestTransport(t *testing.T, cfg Config, lis *bufconn.Listener) *Transport {
	t.Helper()
	book, err := network.New(entity.Testnet, []network.Node{{AccountID: testNodeID, Address: bufnetAddr}})
	if err != nil {
		t.Fatalf("network.New: %v", err)
	}
	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	tr, err := New(cfg, book, WithDialOptions(grpc.WithContextDialer(dialer)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestSendRoundTrip(t *testing.T) {
	tr := newTestTransport(t, DefaultConfig(), startServer(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for range 2 {
		got, err := tr.Send(ctx, testNodeID, echoMethod, []byte("ping"))
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if string(got) != "echo:ping" {
			t.Errorf("Send = %q, want %q", got, "echo:ping")
		}
	}
	if tr.Conns() != 1 {
		t.Errorf("Conns() = %d, want 1", tr.Conns())
	}
}

func TestSendErrors(t *testing.T) {
	tr := newTestTransport(t, DefaultConfig(), startServer(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name   string
		node   entity.ID
		method engine.Method
		op     string
		code   codes.Code
	}{
		{"handler status", testNodeID, failMethod, "invoke", codes.Unavailable},
		{"unknown method", testNodeID, engine.Method{Service: testService, Name: "missing"}, "invoke", codes.Unimplemented},
		{"unknown node", entity.Account(0, 0, 99), echoMethod, "resolve", codes.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Send(ctx, tt.node, tt.method, nil)
			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("err = %v, want *TransportError", err)
			}
			if te.Op != tt.op || te.Code() != tt.code {
				t.Errorf("op=%s code=%s, want %s/%s", te.Op, te.Code(), tt.op, tt.code)
			}
		})
	}

	_, err := tr.Send(ctx, entity.Account(0, 0, 99), echoMethod, nil)
	if !errors.Is(err, network.ErrUnknownNode) {
		t.Errorf("err = %v, want network.ErrUnknownNode in chain", err)
	}
}

func TestSendRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestsPerSecond = 0.01
	cfg.Burst = 1
	tr := newTestTransport(t, cfg, startServer(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := tr.Send(ctx, testNodeID, echoMethod, nil); err != nil {
		t.Fatalf("first Send: %v", err)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	_, err := tr.Send(short, testNodeID, echoMethod, nil)
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "limit" {
		t.Errorf("err = %v, want limit failure", err)
	}
}

func TestPruneAndClose(t *testing.T) {
	tr := newTestTransport(t, DefaultConfig(), startServer(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := tr.Send(ctx, testNodeID, echoMethod, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	tr.Prune([]string{bufnetAddr})
	if tr.Conns() != 1 {
		t.Errorf("Prune closed a live address")
	}
	tr.Prune(nil)
	if tr.Conns() != 0 {
		t.Errorf("Conns() = %d after Prune(nil), want 0", tr.Conns())
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := tr.Send(ctx, testNodeID, echoMethod, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close err = %v, want ErrClosed", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"negative msg size", func(c *Config) { c.MaxMsgBytes = -1 }, true},
		{"negative rps", func(c *Config) { c.RequestsPerSecond = -1 }, true},
		{"rps without burst", func(c *Config) { c.RequestsPerSecond = 5; c.Burst = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
