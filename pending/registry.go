package pending

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/generic"
	"github.com/alanbriolat/media-fetch/internal/sync_"
)

const (
	DefaultTTL           = 10 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Details are the descriptive parts of a selection, carried through to delivery.
type Details struct {
	Title    string
	Author   string
	Duration generic.Option[time.Duration]
}

type Option func(*Registry)

func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.ttl = ttl
	}
}

func WithSweepInterval(interval time.Duration) Option {
	return func(r *Registry) {
		r.sweepInterval = interval
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func WithTokenGenerator(f func() (string, error)) Option {
	return func(r *Registry) {
		r.newToken = f
	}
}

// Registry maps opaque tokens to selections awaiting execution. Each token can be consumed at most once, and entries
// expire after a TTL whether or not they are consumed.
type Registry struct {
	store         Store
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	newToken      func() (string, error)
	log           *zap.SugaredLogger

	startOnce sync.Once
	stop      sync_.Event
	wg        sync.WaitGroup
}

func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:         store,
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		newToken:      NewToken,
		log:           zap.S().Named("pending"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewToken returns 32 hex characters: a UUIDv7, so a millisecond timestamp prefix followed by random bits.
func NewToken() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

func (r *Registry) TTL() time.Duration {
	return r.ttl
}

func (r *Registry) Create(ref mediafetch.MediaRef, format mediafetch.FormatDescriptor, isAudio bool, details Details) (string, error) {
	token, err := r.newToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	selection := mediafetch.PendingSelection{
		Token:     token,
		Ref:       ref,
		Format:    format,
		IsAudio:   isAudio,
		Title:     details.Title,
		Author:    details.Author,
		Duration:  details.Duration,
		CreatedAt: r.now(),
	}
	if err := r.store.Put(selection); err != nil {
		return "", fmt.Errorf("failed to store selection: %w", err)
	}
	r.log.Debugw("created", "token", token, "url", ref.SourceURL, "label", format.Label, "audio", isAudio)
	return token, nil
}

// Consume returns the selection for token and removes it. ErrSelectionExpired is returned if the token is unknown,
// already consumed, or older than the TTL even if the sweep has not removed it yet.
func (r *Registry) Consume(token string) (mediafetch.PendingSelection, error) {
	selection, found, err := r.store.Take(token)
	if err != nil {
		return mediafetch.PendingSelection{}, fmt.Errorf("failed to read selection: %w", err)
	}
	if !found {
		return mediafetch.PendingSelection{}, mediafetch.ErrSelectionExpired
	}
	if r.expired(selection) {
		r.log.Debugw("expired on consume", "token", token)
		return mediafetch.PendingSelection{}, mediafetch.ErrSelectionExpired
	}
	return selection, nil
}

// Cancel discards a selection. Cancelling an unknown token is not an error.
func (r *Registry) Cancel(token string) error {
	return r.store.Delete(token)
}

// Sweep removes expired selections now.
func (r *Registry) Sweep() (int, error) {
	removed, err := r.store.Sweep(r.now().Add(-r.ttl))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.log.Debugw("swept", "removed", removed)
	}
	return removed, nil
}

func (r *Registry) Len() (int, error) {
	return r.store.Len()
}

// Start runs the periodic sweep until ctx is done or the Registry is closed. Calling it more than once has no effect.
func (r *Registry) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ticker := time.NewTicker(r.sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-r.stop.Wait():
					return
				case <-ticker.C:
					if _, err := r.Sweep(); err != nil {
						r.log.Warnw("sweep failed", "error", err)
					}
				}
			}
		}()
	})
}

// Close stops the sweep and closes the store.
func (r *Registry) Close() error {
	r.stop.Set()
	r.wg.Wait()
	return r.store.Close()
}

func (r *Registry) expired(selection mediafetch.PendingSelection) bool {
	return r.now().Sub(selection.CreatedAt) > r.ttl
}
