package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Time allowed for ffmpeg to exit after its pipes are closed.
const waitDelay = 5 * time.Second

// FFmpeg runs an ffmpeg binary, streaming through its stdin and stdout.
type FFmpeg struct {
	Binary      string
	BitrateKbps int
	log         *zap.SugaredLogger
}

func NewFFmpeg(binary string, bitrateKbps int) *FFmpeg {
	return &FFmpeg{
		Binary:      binary,
		BitrateKbps: bitrateKbps,
		log:         zap.S().Named("ffmpeg"),
	}
}

func (t *FFmpeg) Transcode(ctx context.Context, src io.Reader, dst io.Writer) error {
	cmd := exec.CommandContext(ctx, t.Binary, mp3Args(t.BitrateKbps, "pipe:0", "pipe:1")...)
	cmd.Stdin = src
	cmd.Stdout = dst
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	t.log.Debugw("transcoding", "bitrate_kbps", t.BitrateKbps)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}
