package core

import "context"

// Source produces pages for the streams it defines.
type Source interface {
	// Name identifies the source in logs and the registry.
	Name() string
	// Streams lists the source's streams in run order.
	Streams() []*Stream
	// Open starts reading stream from the given watermarks. No request is
	// made before the first call to Next unless the stream is invalid.
	Open(ctx context.Context, stream *Stream, watermarks Watermarks) (PageIterator, error)
	Close() error
}

// Sink consumes pages. It owns table creation and applying the stream's
// write mode.
type Sink interface {
	Write(ctx context.Context, stream *Stream, page Page) error
	Close(ctx context.Context) error
}
