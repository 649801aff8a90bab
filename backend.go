package mediafetch

import (
	"context"
	"io"

	"github.com/alanbriolat/media-fetch/generic"
)

// StreamOpener opens the byte stream of one rendition.
type StreamOpener interface {
	// OpenStream requests exactly the rendition named by format.Selector. The returned size is the length reported
	// by the upstream, if any.
	OpenStream(ctx context.Context, ref MediaRef, format FormatDescriptor) (io.ReadCloser, generic.Option[int64], error)
}

// A Backend is an external metadata and stream extraction service or tool.
type Backend interface {
	StreamOpener
	Kind() BackendKind
	// Resolve fetches the title and raw format list of the media.
	Resolve(ctx context.Context, ref MediaRef) (*Metadata, error)
}

// Caption is the metadata shown alongside a delivered file.
type Caption struct {
	Title     string
	Performer string
}

// Payload is what a Sink receives. Reader is always set; Path is set when the bytes are buffered in a local file
// that the sink may read directly instead.
type Payload struct {
	Reader io.Reader
	Size   generic.Option[int64]
	Path   string
}

// A Sink is the narrow upload contract of the delivery layer. Deliver must have finished with the payload when it
// returns, since any backing file is removed afterwards.
type Sink interface {
	Deliver(ctx context.Context, payload Payload, filename string, caption Caption) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, payload Payload, filename string, caption Caption) error

func (f SinkFunc) Deliver(ctx context.Context, payload Payload, filename string, caption Caption) error {
	return f(ctx, payload, filename, caption)
}
