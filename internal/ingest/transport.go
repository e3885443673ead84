package ingest

import "context"

// Conn is one live stream connection. Next blocks until the next raw event
// frame arrives; it returns an error when the transport drops, the context
// is cancelled, or the server ends the stream.
type Conn interface {
	Next() ([]byte, error)
	Close() error
}

// Transport dials the per-job event stream. Implementations exist for
// Server-Sent Events (the default) and WebSocket; the ingestor does not
// care which carries the frames.
type Transport interface {
	Open(ctx context.Context, jobID string) (Conn, error)
}
