package extract

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/catalog"
	"github.com/alanbriolat/media-fetch/generic"
)

// Resolution is the outcome of a successful Chain.Resolve, tagged with the backend that served it.
type Resolution struct {
	Served  mediafetch.BackendKind
	Catalog mediafetch.Catalog
	// The primary failure that caused the fallback to be used, if it was.
	PrimaryErr error
}

// Chain resolves media through a primary backend, falling back to a secondary backend on recoverable failures.
// Chain is stateless and safe for concurrent use.
type Chain struct {
	Primary  mediafetch.Backend
	Fallback mediafetch.Backend
	Builder  *catalog.Builder
	// Providers whose refs the primary backend understands. Empty means all of them.
	PrimaryProviders generic.Set[string]

	log *zap.SugaredLogger
}

func NewChain(primary, fallback mediafetch.Backend, builder *catalog.Builder) *Chain {
	if builder == nil {
		builder = catalog.NewBuilder(catalog.DefaultMaxRenditions)
	}
	return &Chain{
		Primary:          primary,
		Fallback:         fallback,
		Builder:          builder,
		PrimaryProviders: generic.NewSet[string](),
		log:              zap.S().Named("extract"),
	}
}

// WithPrimaryProviders restricts the primary backend to refs from the named providers.
func (c *Chain) WithPrimaryProviders(names ...string) *Chain {
	c.PrimaryProviders.Add(names...)
	return c
}

func (c *Chain) logger() *zap.SugaredLogger {
	if c.log == nil {
		return zap.S().Named("extract")
	}
	return c.log
}

func (c *Chain) primaryHandles(ref mediafetch.MediaRef) bool {
	if c.Primary == nil {
		return false
	}
	return c.PrimaryProviders == nil || c.PrimaryProviders.Count() == 0 || c.PrimaryProviders.Contains(ref.Provider)
}

// Resolve returns the catalog of the media. An empty catalog is a valid result. On failure the error is a
// *mediafetch.ResolutionError carrying the primary backend's error, or the fallback's if the primary was not used.
func (c *Chain) Resolve(ctx context.Context, ref mediafetch.MediaRef) (Resolution, error) {
	log := c.logger().With("url", ref.SourceURL)

	if !c.primaryHandles(ref) {
		if c.Fallback == nil {
			return Resolution{}, &mediafetch.ResolutionError{URL: ref.SourceURL, Err: mediafetch.ErrNoBackend}
		}
		metadata, err := c.Fallback.Resolve(ctx, ref)
		if err != nil {
			return Resolution{}, &mediafetch.ResolutionError{URL: ref.SourceURL, Err: err}
		}
		return c.resolution(mediafetch.BackendFallback, metadata, nil), nil
	}

	metadata, primaryErr := c.Primary.Resolve(ctx, ref)
	if primaryErr == nil {
		return c.resolution(mediafetch.BackendPrimary, metadata, nil), nil
	}
	class := Classify(primaryErr)
	log.Infow("primary backend failed", "class", class, "error", primaryErr)
	if class != Recoverable || c.Fallback == nil {
		return Resolution{}, &mediafetch.ResolutionError{URL: ref.SourceURL, Err: primaryErr}
	}

	metadata, fallbackErr := c.Fallback.Resolve(ctx, ref)
	if fallbackErr != nil {
		log.Warnw("fallback backend failed", "error", fallbackErr)
		return Resolution{}, &mediafetch.ResolutionError{URL: ref.SourceURL, Err: primaryErr}
	}
	log.Infow("resolved by fallback backend")
	return c.resolution(mediafetch.BackendFallback, metadata, primaryErr), nil
}

func (c *Chain) resolution(served mediafetch.BackendKind, metadata *mediafetch.Metadata, primaryErr error) Resolution {
	// Selectors are only meaningful to the backend that issued them
	formats := make([]mediafetch.FormatDescriptor, len(metadata.Formats))
	for i, f := range metadata.Formats {
		f.Backend = served
		formats[i] = f
	}
	tagged := *metadata
	tagged.Formats = formats
	return Resolution{
		Served:     served,
		Catalog:    c.Builder.Build(&tagged),
		PrimaryErr: primaryErr,
	}
}

func (c *Chain) backend(kind mediafetch.BackendKind) mediafetch.Backend {
	switch kind {
	case mediafetch.BackendPrimary:
		return c.Primary
	case mediafetch.BackendFallback:
		return c.Fallback
	default:
		return nil
	}
}

// OpenStream opens the rendition on the backend that described it.
func (c *Chain) OpenStream(ctx context.Context, ref mediafetch.MediaRef, format mediafetch.FormatDescriptor) (io.ReadCloser, generic.Option[int64], error) {
	backend := c.backend(format.Backend)
	if backend == nil {
		return nil, generic.None[int64](), fmt.Errorf("%s: %w", format.Backend, mediafetch.ErrNoBackend)
	}
	return backend.OpenStream(ctx, ref, format)
}
