// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the duplex byte-stream abstraction the protocol engine runs on.
// Implementations own the underlying socket; the engine only reads, writes and releases it.

package api

// Transport is an accepted, already-upgraded duplex byte stream.
type Transport interface {
	// Recv blocks until bytes are available and returns them.
	// Returned bytes carry no frame alignment guarantee and are owned by the caller.
	Recv() ([]byte, error)

	// Send writes the whole buffer or returns an error.
	Send(b []byte) error

	// Close releases the underlying stream. Calling it twice is harmless.
	Close() error

	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string
}
