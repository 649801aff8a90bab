package download

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

type scratchConfig struct {
	baseTempDir string
	prefix      string
}

type ScratchOption func(*scratchConfig)

// WithTempDir sets the parent of the scratch directory, os.TempDir() by default.
func WithTempDir(dir string) ScratchOption {
	return func(c *scratchConfig) {
		if dir != "" {
			c.baseTempDir = dir
		}
	}
}

// WithPrefix names the scratch directory, e.g. after the execution it belongs to.
func WithPrefix(prefix string) ScratchOption {
	return func(c *scratchConfig) {
		c.prefix = prefix
	}
}

// Scratch is a private temporary directory owned by one execution.
type Scratch struct {
	dir string
}

func newScratch(config scratchConfig) (*Scratch, error) {
	if err := os.MkdirAll(config.baseTempDir, 0755); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(config.baseTempDir, config.prefix+"*")
	if err != nil {
		return nil, err
	}
	return &Scratch{dir: dir}, nil
}

func (s *Scratch) close() {
	if err := os.RemoveAll(s.dir); err != nil {
		zap.S().Named("download").Warnw("failed to clean up scratch directory", "dir", s.dir, "error", err)
	}
}

func (s *Scratch) Dir() string {
	return s.dir
}

func (s *Scratch) CreateTemp(pattern string) (*os.File, error) {
	return os.CreateTemp(s.dir, pattern)
}

// WithScratch runs f with a fresh scratch directory, which is removed with everything in it when f returns, panics
// included. Files handed out by the Scratch must be closed by f.
func WithScratch(f func(scratch *Scratch) error, opts ...ScratchOption) error {
	config := scratchConfig{
		baseTempDir: os.TempDir(),
		prefix:      "media-fetch-",
	}
	for _, opt := range opts {
		opt(&config)
	}
	if scratch, err := newScratch(config); err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	} else {
		defer scratch.close()
		return f(scratch)
	}
}
