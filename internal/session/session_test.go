package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/catalog"
	"github.com/alanbriolat/media-fetch/extract"
	"github.com/alanbriolat/media-fetch/generic"
	"github.com/alanbriolat/media-fetch/pending"
	"github.com/alanbriolat/media-fetch/sizeguard"
	"github.com/alanbriolat/media-fetch/transfer"
)

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

type fakeBackend struct {
	kind     mediafetch.BackendKind
	metadata *mediafetch.Metadata
	err      error
	resolves atomic.Int32
	opened   atomic.Int32
}

func (b *fakeBackend) Kind() mediafetch.BackendKind {
	return b.kind
}

func (b *fakeBackend) Resolve(ctx context.Context, ref mediafetch.MediaRef) (*mediafetch.Metadata, error) {
	b.resolves.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	return b.metadata, nil
}

func (b *fakeBackend) OpenStream(ctx context.Context, ref mediafetch.MediaRef, format mediafetch.FormatDescriptor) (io.ReadCloser, generic.Option[int64], error) {
	b.opened.Add(1)
	length := format.ContentLength.UnwrapOr(1000)
	return io.NopCloser(io.LimitReader(zeros{}, length)), generic.Some(length), nil
}

type copyTranscoder struct{}

func (copyTranscoder) Transcode(ctx context.Context, src io.Reader, dst io.Writer) error {
	_, err := io.Copy(dst, src)
	return err
}

type countingSink struct {
	mu        sync.Mutex
	delivered map[string]int64
}

func (s *countingSink) Deliver(ctx context.Context, payload mediafetch.Payload, filename string, caption mediafetch.Caption) error {
	n, err := io.Copy(io.Discard, payload.Reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delivered == nil {
		s.delivered = make(map[string]int64)
	}
	s.delivered[filename] = n
	return nil
}

func scenarioMetadata() *mediafetch.Metadata {
	return &mediafetch.Metadata{
		Title:    "Scenario",
		Author:   "Tester",
		Duration: generic.Some(4 * time.Minute),
		Formats: []mediafetch.FormatDescriptor{
			{Label: "1080p", Selector: "37", Container: "mp4", HasVideo: true, HasAudio: true, ContentLength: generic.Some(int64(80_000_000))},
			{Label: "720p", Selector: "22", Container: "mp4", HasVideo: true, HasAudio: true, ContentLength: generic.Some(int64(40_000_000))},
			{Selector: "140", Container: "m4a", HasAudio: true, Bitrate: generic.Some(int64(128_000))},
		},
	}
}

type fixture struct {
	session  *Session
	primary  *fakeBackend
	fallback *fakeBackend
	sink     *countingSink
	events   []Event
	eventsWg sync.WaitGroup
}

func newFixture(t *testing.T, primaryErr error) *fixture {
	f := &fixture{
		primary:  &fakeBackend{kind: mediafetch.BackendPrimary, metadata: scenarioMetadata(), err: primaryErr},
		fallback: &fakeBackend{kind: mediafetch.BackendFallback, metadata: scenarioMetadata()},
		sink:     &countingSink{},
	}
	providers := &mediafetch.ProviderRegistry{}
	providers.MustAdd(mediafetch.Provider{Name: "test", Match: func(s string) (*mediafetch.MediaRef, error) {
		if !strings.HasPrefix(s, "https://video.test/") {
			return nil, errors.New("not a test URL")
		}
		return &mediafetch.MediaRef{SourceURL: s, CanonicalID: strings.TrimPrefix(s, "https://video.test/")}, nil
	}})
	chain := extract.NewChain(f.primary, f.fallback, catalog.NewBuilder(5))
	config := mediafetch.DefaultConfig()
	filenames, err := config.Filenames()
	require.NoError(t, err)
	s, err := New(Config{
		ProviderRegistry: providers,
		Resolver:         chain,
		Registry:         pending.New(pending.NewMemoryStore()),
		Pipeline: &transfer.Pipeline{
			Streams:    chain,
			Transcoder: copyTranscoder{},
			Guard:      sizeguard.New(50_000_000),
			Sink:       f.sink,
			Filenames:  filenames,
			TempDir:    t.TempDir(),
			Timeout:    time.Minute,
		},
	}, context.Background())
	require.NoError(t, err)
	f.session = s

	sub, err := s.events.SubscribeFiltered(10_000, nil)
	require.NoError(t, err)
	f.eventsWg.Add(1)
	go func() {
		defer f.eventsWg.Done()
		for e := range sub.Receive() {
			f.events = append(f.events, e)
		}
	}()
	return f
}

// close shuts down the session and returns every event it published.
func (f *fixture) close() []Event {
	f.session.Close()
	f.eventsWg.Wait()
	return f.events
}

func TestSizeCeilingScenario(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()

	offer, err := f.session.Resolve(ctx, "https://video.test/abc")
	require.NoError(t, err)
	assert.Equal(mediafetch.BackendPrimary, offer.Served)
	assert.Equal([]string{"1080p", "720p"}, offer.Catalog.Labels())
	audio, ok := offer.Audio()
	require.True(t, ok)
	assert.True(audio.Format.IsAudioOnly())
	assert.Len(offer.Choices, 3)

	hd, ok := offer.Video("1080p")
	require.True(t, ok)
	_, err = f.session.Execute(ctx, hd.Token)
	var rejected *mediafetch.SizeRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(int64(50_000_000), rejected.Ceiling)

	sd, ok := offer.Video("720p")
	require.True(t, ok)
	outcome, err := f.session.Execute(ctx, sd.Token)
	require.NoError(t, err)
	assert.Equal(int64(40_000_000), outcome.Size)
	assert.Equal(mediafetch.StrategyStreamed, outcome.Strategy)
	assert.Equal("Scenario [720p].mp4", outcome.Filename)

	_, err = f.session.Execute(ctx, sd.Token)
	assert.ErrorIs(err, mediafetch.ErrSelectionExpired)
	assert.Equal(int32(1), f.primary.opened.Load())

	events := f.close()
	var finished []TransferFinished
	for _, e := range events {
		if e, ok := e.(TransferFinished); ok {
			finished = append(finished, e)
		}
	}
	require.Len(t, finished, 2)
	assert.Equal(hd.Token, finished[0].Token())
	assert.Error(finished[0].Err)
	assert.Equal(sd.Token, finished[1].Token())
	assert.NoError(finished[1].Err)
	assert.Equal("720p", finished[1].Selection().Format.Label)
	assert.Equal("Scenario", finished[1].Selection().Title)
	assert.Equal(outcome, finished[1].Outcome)
	_, isResolve := events[0].(ResolveFinished)
	assert.True(isResolve)
}

func TestFallbackScenario(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t, errors.New("youtube: unexpected response (Status code: 410)"))
	ctx := context.Background()

	offer, err := f.session.Resolve(ctx, "https://video.test/abc")
	require.NoError(t, err)
	assert.Equal(mediafetch.BackendFallback, offer.Served)
	assert.Equal(int32(1), f.fallback.resolves.Load())
	for _, choice := range offer.Choices {
		assert.Equal(mediafetch.BackendFallback, choice.Format.Backend)
	}

	audio, ok := offer.Audio()
	require.True(t, ok)
	outcome, err := f.session.Execute(ctx, audio.Token)
	require.NoError(t, err)
	assert.True(outcome.IsAudio)
	assert.Equal(mediafetch.StrategyBuffered, outcome.Strategy)
	assert.Equal(int32(1), f.fallback.opened.Load())
	assert.Equal(int32(0), f.primary.opened.Load())
	f.close()
}

func TestResolveErrors(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t, errors.New("This video is private"))
	ctx := context.Background()

	_, err := f.session.Resolve(ctx, "https://elsewhere.test/abc")
	var resolutionErr *mediafetch.ResolutionError
	require.ErrorAs(t, err, &resolutionErr)
	assert.ErrorIs(err, mediafetch.ErrNoMatch)

	_, err = f.session.Resolve(ctx, "https://video.test/abc")
	require.ErrorAs(t, err, &resolutionErr)
	assert.ErrorContains(err, "private")
	assert.Equal(int32(0), f.fallback.resolves.Load())

	events := f.close()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Error(e.(ResolveFinished).Err)
	}
}

func TestCancelAndDiscard(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()

	offer, err := f.session.Resolve(ctx, "https://video.test/abc")
	require.NoError(t, err)
	require.NoError(t, f.session.Cancel(offer.Choices[0].Token))
	_, err = f.session.Execute(ctx, offer.Choices[0].Token)
	assert.ErrorIs(err, mediafetch.ErrSelectionExpired)

	f.session.Discard(offer)
	for _, choice := range offer.Choices {
		_, err = f.session.Execute(ctx, choice.Token)
		assert.ErrorIs(err, mediafetch.ErrSelectionExpired)
	}
	f.close()
}

func TestClosed(t *testing.T) {
	f := newFixture(t, nil)
	f.close()
	_, err := f.session.Resolve(context.Background(), "https://video.test/abc")
	assert_.ErrorIs(t, err, ErrSessionClosed)
	_, err = f.session.Execute(context.Background(), "token")
	assert_.ErrorIs(t, err, ErrSessionClosed)
	f.session.Close()
}

func TestEmptyOffer(t *testing.T) {
	f := newFixture(t, nil)
	f.primary.metadata = &mediafetch.Metadata{Title: "Nothing to see"}
	offer, err := f.session.Resolve(context.Background(), "https://video.test/abc")
	require.NoError(t, err)
	assert_.True(t, offer.IsEmpty())
	f.close()
}
