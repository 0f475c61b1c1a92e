package grpcnode

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("grpcnode: transport closed")

// TransportError represents a failed round trip to a node.
type TransportError struct {
	// Op is the step that failed: "resolve", "limit", "dial" or "invoke".
	Op string

	// Node is the node account the request was for.
	Node entity.ID

	// Err is the underlying error.
	Err error
}

func (e *TransportError) Error() string {
	return "grpcnode: " + e.Op + " " + e.Node.String() + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Code returns the gRPC status code of the failure, codes.Unknown if the
// error did not come from gRPC.
func (e *TransportError) Code() codes.Code {
	if s, ok := status.FromError(e.Err); ok {
		return s.Code()
	}
	return codes.Unknown
}
