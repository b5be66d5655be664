// Package transport abstracts the persistent duplex connection to the chat
// server. The connection manager dials a fresh transport on every connect
// attempt, so implementations never reconnect on their own.
package transport

import "context"

// Transport is a single open duplex connection.
type Transport interface {
	// Send writes one raw frame.
	Send(ctx context.Context, data []byte) error
	// Receive blocks until the next raw frame or a connection error.
	Receive(ctx context.Context) ([]byte, error)
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, token string) (Transport, error)
}
