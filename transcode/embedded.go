package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"codeberg.org/gruf/go-ffmpreg/ffmpreg"
	"codeberg.org/gruf/go-ffmpreg/wasm"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
)

// Embedded runs ffmpeg compiled to WebAssembly, for hosts without an ffmpeg binary. The module only sees a per-call
// scratch directory, so input and output go through files there.
type Embedded struct {
	BitrateKbps int
	TempDir     string
	log         *zap.SugaredLogger
}

func NewEmbedded(bitrateKbps int, tempDir string) *Embedded {
	return &Embedded{
		BitrateKbps: bitrateKbps,
		TempDir:     tempDir,
		log:         zap.S().Named("ffmpeg-wasm"),
	}
}

func (t *Embedded) Transcode(ctx context.Context, src io.Reader, dst io.Writer) error {
	dir, err := os.MkdirTemp(t.TempDir, "transcode-*")
	if err != nil {
		return err
	}
	// Resolve symlinks so the guest path matches the host path
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	defer func() {
		if removeErr := os.RemoveAll(dir); removeErr != nil {
			t.log.Warnw("failed to remove scratch directory", "dir", dir, "error", removeErr)
		}
	}()

	input := filepath.Join(dir, "input")
	output := filepath.Join(dir, "output.mp3")
	if err := writeFile(input, src); err != nil {
		return fmt.Errorf("failed to buffer transcoder input: %w", err)
	}

	var stderr bytes.Buffer
	args := wasm.Args{
		Stderr: &stderr,
		Stdout: io.Discard,
		Args:   mp3Args(t.BitrateKbps, input, output),
		Config: func(cfg wazero.ModuleConfig) wazero.ModuleConfig {
			return cfg.WithFSConfig(wazero.NewFSConfig().WithDirMount(dir, dir))
		},
	}
	t.log.Debugw("transcoding", "bitrate_kbps", t.BitrateKbps)
	rc, err := ffmpreg.Ffmpeg(ctx, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	if rc != 0 {
		return fmt.Errorf("ffmpeg exited with code %d: %s", rc, lastLine(stderr.String()))
	}

	f, err := os.Open(output)
	if err != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}

func writeFile(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
