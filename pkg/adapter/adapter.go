// Package adapter defines the lifecycle contract of a network endpoint
// managed by the server package.
package adapter

import "context"

// Adapter is one listening endpoint (an RPC program on a TCP port).
//
// Lifecycle:
//  1. Serve(ctx) blocks accepting connections until ctx is cancelled or Stop is called
//  2. Stop(ctx) initiates graceful shutdown and waits for in-flight calls
//
// Implementations must be safe for Stop to be called concurrently with Serve
// and more than once.
type Adapter interface {
	// Serve starts accepting connections and blocks until shutdown.
	// Returns nil on graceful shutdown.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown. The context bounds how long to wait
	// for active connections.
	Stop(ctx context.Context) error

	// Protocol returns a short name for logging and metrics
	// (e.g. "naming-service", "storage-data").
	Protocol() string

	// Port returns the TCP port the adapter listens on.
	Port() int
}
