package mqtt

import (
	"context"
	"errors"
)

// ErrNotStarted is returned by operations that need a connection manager
// before Start has been called.
var ErrNotStarted = errors.New("mqtt client not started")

// Handler receives one inbound publication. Handlers run concurrently with
// each other and with the network reader.
type Handler func(ctx context.Context, topic string, payload []byte)

// Client is the connection the poller keeps to its broker. Connecting,
// reconnecting and re-subscribing happen in the background after Start.
type Client interface {
	Start(ctx context.Context) error

	// Disconnect closes the session and waits, bounded by ctx, for running
	// handlers to return.
	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for filter. The subscription survives
	// reconnects.
	Subscribe(ctx context.Context, filter string, qos int, handler Handler) error

	AwaitConnection(ctx context.Context) error
	IsConnected() bool
}
