package youtube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"
	"go.uber.org/zap"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/generic"
)

// Backend is the primary extraction strategy, talking to YouTube directly. Format selectors are itags.
type Backend struct {
	httpClient *http.Client
	log        *zap.SugaredLogger
}

func NewBackend(httpClient *http.Client) *Backend {
	return &Backend{
		httpClient: httpClient,
		log:        zap.S().Named("youtube"),
	}
}

func (b *Backend) Kind() mediafetch.BackendKind {
	return mediafetch.BackendPrimary
}

// A fresh client per call, the player cache inside youtube.Client is not safe to share between requests.
func (b *Backend) client() *youtube.Client {
	return &youtube.Client{HTTPClient: b.httpClient}
}

func (b *Backend) Resolve(ctx context.Context, ref mediafetch.MediaRef) (*mediafetch.Metadata, error) {
	video, err := b.client().GetVideoContext(ctx, ref.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get video info: %w", err)
	}
	metadata := &mediafetch.Metadata{
		Title:    video.Title,
		Author:   video.Author,
		Duration: generic.SomeIf(video.Duration, video.Duration > 0),
		Formats:  make([]mediafetch.FormatDescriptor, 0, len(video.Formats)),
	}
	for _, format := range video.Formats {
		metadata.Formats = append(metadata.Formats, convertFormat(format))
	}
	b.log.Debugw("resolved", "id", video.ID, "formats", len(metadata.Formats))
	return metadata, nil
}

// OpenStream re-resolves the video first: stream URLs are signed and expire, so the itag is the only durable part
// of the selector.
func (b *Backend) OpenStream(ctx context.Context, ref mediafetch.MediaRef, format mediafetch.FormatDescriptor) (io.ReadCloser, generic.Option[int64], error) {
	itag, err := strconv.Atoi(format.Selector)
	if err != nil {
		return nil, generic.None[int64](), fmt.Errorf("invalid itag %q: %w", format.Selector, err)
	}
	client := b.client()
	video, err := client.GetVideoContext(ctx, ref.SourceURL)
	if err != nil {
		return nil, generic.None[int64](), fmt.Errorf("failed to get video info: %w", err)
	}
	ytFormat, err := findFormat(video, itag)
	if err != nil {
		return nil, generic.None[int64](), err
	}
	stream, size, err := client.GetStreamContext(ctx, video, ytFormat)
	if err != nil {
		return nil, generic.None[int64](), fmt.Errorf("failed to get stream: %w", err)
	}
	return stream, generic.SomeIf(size, size > 0), nil
}

// findFormat picks the rendition with the given itag out of a freshly resolved video.
func findFormat(video *youtube.Video, itag int) (*youtube.Format, error) {
	formats := video.Formats.Itag(itag)
	if len(formats) == 0 {
		return nil, fmt.Errorf("itag %d: %w", itag, mediafetch.ErrFormatNotFound)
	}
	return &formats[0], nil
}

func convertFormat(f youtube.Format) mediafetch.FormatDescriptor {
	mimeType := strings.TrimSpace(strings.SplitN(f.MimeType, ";", 2)[0])
	kind, container, _ := strings.Cut(mimeType, "/")
	bitrate := f.AverageBitrate
	if bitrate <= 0 {
		bitrate = f.Bitrate
	}
	return mediafetch.FormatDescriptor{
		Label:         f.QualityLabel,
		Selector:      strconv.Itoa(f.ItagNo),
		Container:     container,
		HasVideo:      kind == "video",
		HasAudio:      f.AudioChannels > 0 || kind == "audio",
		Height:        f.Height,
		Bitrate:       generic.SomeIf(int64(bitrate), bitrate > 0),
		ContentLength: generic.SomeIf(f.ContentLength, f.ContentLength > 0),
		Backend:       mediafetch.BackendPrimary,
	}
}
