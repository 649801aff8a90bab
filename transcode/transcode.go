package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

const (
	KindFFmpeg   = "ffmpeg"
	KindEmbedded = "embedded"
	KindAuto     = "auto"
)

const DefaultBitrateKbps = 128

var ErrUnknownKind = errors.New("unknown transcoder kind")

// A Transcoder converts an audio stream to MP3 at a fixed bitrate. Transcode returns once all output has been written
// to dst, or with an error; either way no process or temporary file outlives the call.
type Transcoder interface {
	Transcode(ctx context.Context, src io.Reader, dst io.Writer) error
}

// New selects a transcoder implementation. KindAuto uses the ffmpeg binary if it can be found, otherwise the embedded
// WebAssembly build.
func New(kind string, ffmpegPath string, bitrateKbps int, tempDir string) (Transcoder, error) {
	if bitrateKbps <= 0 {
		bitrateKbps = DefaultBitrateKbps
	}
	log := zap.S().Named("transcode")
	switch kind {
	case KindFFmpeg:
		path, err := exec.LookPath(ffmpegPath)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		return NewFFmpeg(path, bitrateKbps), nil
	case KindEmbedded:
		return NewEmbedded(bitrateKbps, tempDir), nil
	case KindAuto, "":
		if path, err := exec.LookPath(ffmpegPath); err == nil {
			log.Debugw("using ffmpeg binary", "path", path)
			return NewFFmpeg(path, bitrateKbps), nil
		}
		log.Infow("ffmpeg binary not found, using embedded transcoder", "ffmpeg_path", ffmpegPath)
		return NewEmbedded(bitrateKbps, tempDir), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func mp3Args(bitrateKbps int, input, output string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-vn",
		"-b:a", fmt.Sprintf("%dk", bitrateKbps),
		"-f", "mp3",
		"-y",
		output,
	}
}

// Last non-empty line of ffmpeg's stderr, which with -loglevel error is the actual reason.
func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
