package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/catalog"
	"github.com/alanbriolat/media-fetch/generic"
)

// Time allowed for yt-dlp to exit after its pipes are closed.
const waitDelay = 5 * time.Second

var videoExtensions = generic.NewSet("mp4", "m4v", "webm", "mkv", "mov", "flv", "3gp", "avi", "ts")

// Backend is the fallback extraction strategy, running the yt-dlp binary. Format selectors are yt-dlp format IDs,
// which yt-dlp re-resolves itself on every invocation.
type Backend struct {
	Binary string
	Header http.Header
	log    *zap.SugaredLogger
}

func NewBackend(binary string, header http.Header) *Backend {
	return &Backend{
		Binary: binary,
		Header: header,
		log:    zap.S().Named("yt-dlp"),
	}
}

func (b *Backend) Kind() mediafetch.BackendKind {
	return mediafetch.BackendFallback
}

// Internal struct to match yt-dlp JSON output
type ytDlpJSON struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Uploader string        `json:"uploader"`
	Duration float64       `json:"duration"`
	Formats  []ytDlpFormat `json:"formats"`
}

type ytDlpFormat struct {
	FormatID       string   `json:"format_id"`
	FormatNote     string   `json:"format_note"`
	Ext            string   `json:"ext"`
	Height         *int     `json:"height"`
	VCodec         string   `json:"vcodec"`
	ACodec         string   `json:"acodec"`
	Filesize       *int64   `json:"filesize"`
	FilesizeApprox *int64   `json:"filesize_approx"`
	TBR            *float64 `json:"tbr"`
	ABR            *float64 `json:"abr"`
}

func (b *Backend) Resolve(ctx context.Context, ref mediafetch.MediaRef) (*mediafetch.Metadata, error) {
	args := append(b.commonArgs(), "-J", ref.SourceURL)
	cmd := exec.CommandContext(ctx, b.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("yt-dlp error: %w: %s", err, lastLine(stderr.String()))
	}
	metadata, err := parseMetadata(output)
	if err != nil {
		return nil, err
	}
	b.log.Debugw("resolved", "url", ref.SourceURL, "formats", len(metadata.Formats))
	return metadata, nil
}

// OpenStream runs yt-dlp with its output on stdout. Closing the stream kills the process. The length yt-dlp reports
// in metadata is often approximate, so no size is returned.
func (b *Backend) OpenStream(ctx context.Context, ref mediafetch.MediaRef, format mediafetch.FormatDescriptor) (io.ReadCloser, generic.Option[int64], error) {
	if format.Selector == "" {
		return nil, generic.None[int64](), fmt.Errorf("empty format ID: %w", mediafetch.ErrFormatNotFound)
	}
	ctx, cancel := context.WithCancel(ctx)
	args := append(b.commonArgs(), "--no-part", "-f", format.Selector, "-o", "-", ref.SourceURL)
	cmd := exec.CommandContext(ctx, b.Binary, args...)
	cmd.WaitDelay = waitDelay
	stream := &processStream{ctx: ctx, cmd: cmd, cancel: cancel}
	cmd.Stderr = &stream.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, generic.None[int64](), err
	}
	stream.stdout = stdout
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, generic.None[int64](), fmt.Errorf("failed to start yt-dlp: %w", err)
	}
	b.log.Debugw("streaming", "url", ref.SourceURL, "format", format.Selector)
	return stream, generic.None[int64](), nil
}

func (b *Backend) commonArgs() []string {
	args := []string{"--no-playlist", "--no-warnings", "--quiet"}
	for key, values := range b.Header {
		for _, value := range values {
			args = append(args, "--add-header", fmt.Sprintf("%s:%s", key, value))
		}
	}
	return args
}

func parseMetadata(output []byte) (*mediafetch.Metadata, error) {
	var data ytDlpJSON
	if err := json.Unmarshal(output, &data); err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}
	metadata := &mediafetch.Metadata{
		Title:    data.Title,
		Author:   data.Uploader,
		Duration: generic.SomeIf(time.Duration(data.Duration*float64(time.Second)), data.Duration > 0),
		Formats:  make([]mediafetch.FormatDescriptor, 0, len(data.Formats)),
	}
	for _, f := range data.Formats {
		metadata.Formats = append(metadata.Formats, convertFormat(f))
	}
	return metadata, nil
}

func convertFormat(f ytDlpFormat) mediafetch.FormatDescriptor {
	height := 0
	if f.Height != nil {
		height = *f.Height
	}
	hasVideo := f.VCodec != "none" && (f.VCodec != "" || height > 0)
	hasAudio := f.ACodec != "none" && f.ACodec != ""
	if f.VCodec == "" && f.ACodec == "" {
		// Direct files and progressive variants come without codec fields: assume a muxed file, or plain audio
		// when nothing suggests video
		hasVideo = height > 0 || videoExtensions.Contains(strings.ToLower(f.Ext))
		hasAudio = true
	}

	// format_note is free text ("medium", "DASH audio"), only keep it when it reads as a quality
	label := ""
	if _, ok := catalog.LabelQuality(f.FormatNote); ok {
		label = f.FormatNote
	}

	bitrate := f.TBR
	if bitrate == nil || (!hasVideo && f.ABR != nil) {
		bitrate = f.ABR
	}
	length := f.Filesize
	if length == nil {
		length = f.FilesizeApprox
	}

	descriptor := mediafetch.FormatDescriptor{
		Label:     label,
		Selector:  f.FormatID,
		Container: f.Ext,
		HasVideo:  hasVideo,
		HasAudio:  hasAudio,
		Height:    height,
		Backend:   mediafetch.BackendFallback,
	}
	if bitrate != nil && *bitrate > 0 {
		// yt-dlp reports kbit/s
		descriptor.Bitrate = generic.Some(int64(math.Round(*bitrate * 1000)))
	}
	if length != nil && *length > 0 {
		descriptor.ContentLength = generic.Some(*length)
	}
	return descriptor
}

type processStream struct {
	ctx    context.Context
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	stderr bytes.Buffer

	waitOnce sync.Once
	waitErr  error
}

func (s *processStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		// A clean EOF only counts if yt-dlp also exited cleanly
		if waitErr := s.wait(); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

func (s *processStream) Close() error {
	s.cancel()
	if err := s.wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *processStream) wait() error {
	s.waitOnce.Do(func() {
		if err := s.cmd.Wait(); err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				s.waitErr = ctxErr
			} else {
				s.waitErr = fmt.Errorf("yt-dlp error: %w: %s", err, lastLine(s.stderr.String()))
			}
		}
	})
	return s.waitErr
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
