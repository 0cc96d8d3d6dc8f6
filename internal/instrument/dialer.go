package instrument

import "context"

// Stream is a single open watch_updates subscription.
type Stream interface {
	// Recv blocks until the next Update arrives, the stream is closed by
	// the server (io.EOF), or ctx is done.
	Recv() (*Update, error)
	// Close releases the stream's resources.
	Close() error
}

// Dialer opens a streaming RPC against a target's instrument endpoint.
// Abstracting this behind an interface lets the Connection Supervisor be
// tested without a real target (spec.md §1 treats the wire protocol as an
// external collaborator).
type Dialer interface {
	Dial(ctx context.Context, url string) (Stream, error)
}
