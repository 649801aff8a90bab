package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/extract"
	"github.com/alanbriolat/media-fetch/generic"
	"github.com/alanbriolat/media-fetch/internal/pubsub"
	"github.com/alanbriolat/media-fetch/pending"
	"github.com/alanbriolat/media-fetch/transfer"
)

var ErrSessionClosed = errors.New("session closed")

// Resolver is satisfied by *extract.Chain.
type Resolver interface {
	Resolve(ctx context.Context, ref mediafetch.MediaRef) (extract.Resolution, error)
}

type Config struct {
	ProviderRegistry *mediafetch.ProviderRegistry
	Resolver         Resolver
	Registry         *pending.Registry
	// The session becomes the pipeline's Observer.
	Pipeline *transfer.Pipeline
}

// Session is the entry point for a chat layer: resolve a URL into an Offer of tokens, then execute one of them.
// Every call is independent and safe for concurrent use.
type Session struct {
	config    Config
	ctx       context.Context
	ctxCancel context.CancelFunc
	log       *zap.SugaredLogger
	events    *pubsub.Publisher[Event]

	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup
}

func New(config Config, ctx context.Context) (*Session, error) {
	if config.ProviderRegistry == nil {
		config.ProviderRegistry = &mediafetch.DefaultProviderRegistry
	}
	if config.Resolver == nil || config.Registry == nil || config.Pipeline == nil {
		return nil, fmt.Errorf("session needs a resolver, a registry and a pipeline")
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		config:    config,
		ctx:       ctx,
		ctxCancel: cancel,
		log:       zap.S().Named("session"),
		events:    pubsub.NewPublisher[Event](),
	}
	config.Pipeline.Observer = transfer.ObserverFuncs{
		OnStage: func(selection mediafetch.PendingSelection, stage mediafetch.Stage) {
			s.events.Send(TransferStageChanged{selectionEvent{selection}, stage})
		},
		OnProgress: func(selection mediafetch.PendingSelection, transferred int64, total generic.Option[int64]) {
			s.events.Send(TransferProgress{selectionEvent{selection}, transferred, total})
		},
	}
	config.Registry.Start(ctx)
	return s, nil
}

func (s *Session) Subscribe() (pubsub.ReceiverCloser[Event], error) {
	return s.events.Subscribe()
}

// SubscribeToken only receives events about one selection.
func (s *Session) SubscribeToken(token string) (pubsub.ReceiverCloser[Event], error) {
	return s.events.SubscribeFiltered(pubsub.DefaultSubscriberBufSize, func(e Event) bool {
		return e.Token() == token
	})
}

// begin registers a call that Close must wait for.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.running.Add(1)
	return nil
}

// Resolve matches and resolves a URL, storing one pending selection per offered rendition. An Offer with no
// choices means the media has nothing downloadable.
func (s *Session) Resolve(ctx context.Context, url string) (offer *Offer, err error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.running.Done()
	defer func() {
		s.events.Send(ResolveFinished{URL: url, Offer: offer, Err: err})
	}()

	ref, err := s.config.ProviderRegistry.Match(url)
	if err != nil {
		return nil, &mediafetch.ResolutionError{URL: url, Err: err}
	}
	resolution, err := s.config.Resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	offer, err = s.offer(ref, resolution)
	if err != nil {
		return nil, err
	}
	s.log.Infow("resolved", "url", ref.SourceURL, "served", resolution.Served, "choices", len(offer.Choices))
	return offer, nil
}

func (s *Session) offer(ref mediafetch.MediaRef, resolution extract.Resolution) (*Offer, error) {
	c := resolution.Catalog
	details := pending.Details{Title: c.Title, Author: c.Author, Duration: c.Duration}
	offer := &Offer{Ref: ref, Served: resolution.Served, Catalog: c}
	add := func(format mediafetch.FormatDescriptor, isAudio bool) error {
		token, err := s.config.Registry.Create(ref, format, isAudio, details)
		if err != nil {
			return err
		}
		offer.Choices = append(offer.Choices, Choice{Token: token, Label: format.Label, IsAudio: isAudio, Format: format})
		return nil
	}
	for _, format := range c.Video {
		if err := add(format, false); err != nil {
			s.Discard(offer)
			return nil, err
		}
	}
	if audio, ok := c.Audio.Get(); ok {
		if err := add(audio, true); err != nil {
			s.Discard(offer)
			return nil, err
		}
	}
	return offer, nil
}

// Execute consumes a token and runs its selection. The token is spent even if the execution fails; the requester
// resolves again to retry.
func (s *Session) Execute(ctx context.Context, token string) (outcome mediafetch.Outcome, err error) {
	if err := s.begin(); err != nil {
		return mediafetch.Outcome{}, err
	}
	defer s.running.Done()

	selection, err := s.config.Registry.Consume(token)
	if err != nil {
		return mediafetch.Outcome{}, err
	}
	defer func() {
		s.events.Send(TransferFinished{selectionEvent{selection}, outcome, err})
	}()

	// Closing the session cancels executions in progress
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	ctx = mediafetch.WithLogger(ctx, mediafetch.Logger(ctx).With(zap.String("token", token)))
	return s.config.Pipeline.Execute(ctx, selection)
}

// Cancel discards a pending selection. Unknown tokens are ignored.
func (s *Session) Cancel(token string) error {
	return s.config.Registry.Cancel(token)
}

// Discard cancels every choice of an offer.
func (s *Session) Discard(offer *Offer) {
	for _, choice := range offer.Choices {
		if err := s.Cancel(choice.Token); err != nil {
			s.log.Warnw("failed to cancel selection", "token", choice.Token, "error", err)
		}
	}
}

// Close cancels executions in progress, waits for them, and stops the registry.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.ctxCancel()
	s.running.Wait()
	if err := s.config.Registry.Close(); err != nil {
		s.log.Warnw("failed to close registry", "error", err)
	}
	s.events.Close()
}
