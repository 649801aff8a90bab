package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/alanbriolat/media-fetch"
)

var ErrSizeMismatch = errors.New("payload size does not match declared size")

// Directory delivers payloads as files in a local directory. Files appear atomically: they are written under a
// temporary name and renamed into place. An existing file of the same name gets a numbered suffix.
type Directory struct {
	Path string
	log  *zap.SugaredLogger
}

func NewDirectory(path string) (*Directory, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	return &Directory{Path: path, log: zap.S().Named("sink")}, nil
}

func (d *Directory) Deliver(ctx context.Context, payload mediafetch.Payload, filename string, caption mediafetch.Caption) error {
	filename = mediafetch.SanitizeFilename(filename)
	tmp, err := os.CreateTemp(d.Path, ".incoming-*")
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, mediafetch.NewContextReader(ctx, payload.Reader))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	if size, ok := payload.Size.Get(); ok && size != n {
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrSizeMismatch, n, size)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	target, err := d.claim(filename)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return err
	}
	committed = true
	d.log.Infow("saved", "path", target, "bytes", n, "title", caption.Title, "performer", caption.Performer)
	return nil
}

// claim picks a name that does not exist yet, reserving it by creating an empty file.
func (d *Directory) claim(filename string) (string, error) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for i := 0; i < 1000; i++ {
		name := filename
		if i > 0 {
			name = fmt.Sprintf("%s (%d)%s", base, i, ext)
		}
		path := filepath.Join(d.Path, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		} else if err != nil {
			return "", err
		}
		return path, f.Close()
	}
	return "", fmt.Errorf("too many files named %q", filename)
}
