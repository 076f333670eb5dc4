package directline

import (
	"context"

	"github.com/verastack/switchboard/pkg/streaming"
)

// StreamingConn defines the transport operations the controller drives.
// This interface allows for dependency injection and easier testing.
type StreamingConn interface {
	// Connect establishes the framed transport connection
	Connect(ctx context.Context) error

	// Send transmits a request and waits for the correlated response
	Send(ctx context.Context, req *streaming.Request) (*streaming.Response, error)

	// Disconnect closes the connection. Idempotent; the disconnection
	// callback registered at construction fires asynchronously.
	Disconnect() error
}

// DialFunc constructs a transport bound to a connect URL, an inbound
// request handler, and a disconnection callback.
type DialFunc func(url string, handler streaming.RequestHandler, onDisconnect func(error)) StreamingConn

// defaultDial builds the production WebSocket transport.
func defaultDial(url string, handler streaming.RequestHandler, onDisconnect func(error)) StreamingConn {
	return streaming.NewConn(url, handler, onDisconnect)
}
