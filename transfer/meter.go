package transfer

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/generic"
)

var errCeilingReached = errors.New("size ceiling reached")

// Minimum time between progress reports.
const progressInterval = 250 * time.Millisecond

// meter sits between a source stream and whatever consumes it. It counts bytes, stops the stream from passing the
// size limit, insists on the declared length if there is one, and cancels the transfer when no bytes have moved
// for the stall timeout. Errors coming from the source side are remembered, so that a consumer failure can be told
// apart from a source failure.
type meter struct {
	r        io.Reader
	limit    int64
	expect   generic.Option[int64]
	progress func(int64)
	watchdog *time.Timer
	stall    time.Duration

	mu         sync.Mutex
	count      int64
	err        error
	exceeded   bool
	lastReport time.Time
}

// newMeter starts the stall watchdog immediately. A limit or stall of 0 disables that check.
func newMeter(r io.Reader, limit int64, expect generic.Option[int64], stall time.Duration, cancel context.CancelCauseFunc, progress func(int64)) *meter {
	m := &meter{
		r:        r,
		limit:    limit,
		expect:   expect,
		progress: progress,
		stall:    stall,
	}
	if stall > 0 && cancel != nil {
		m.watchdog = time.AfterFunc(stall, func() {
			cancel(mediafetch.ErrStalled)
		})
	}
	return m
}

func (m *meter) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return 0, err
	}
	if m.limit > 0 {
		// One byte past the limit is enough to know it was exceeded
		if allowed := m.limit - m.count + 1; int64(len(p)) > allowed {
			p = p[:allowed]
		}
	}
	m.mu.Unlock()

	n, err := m.r.Read(p)

	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 && m.watchdog != nil {
		m.watchdog.Reset(m.stall)
	}
	m.count += int64(n)
	if m.limit > 0 && m.count > m.limit {
		over := m.count - m.limit
		m.count = m.limit
		m.exceeded = true
		m.err = errCeilingReached
		m.disarm()
		return n - int(over), m.err
	}
	if errors.Is(err, io.EOF) {
		if expect, ok := m.expect.Get(); ok && m.count != expect {
			err = io.ErrUnexpectedEOF
		}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		m.err = err
	}
	if err != nil {
		// Source finished, a slow consumer from here on is not a stall
		m.disarm()
	}
	if m.progress != nil && n > 0 && (err != nil || time.Since(m.lastReport) >= progressInterval) {
		m.lastReport = time.Now()
		m.progress(m.count)
	}
	return n, err
}

// disarm stops the watchdog for good. Must be called with mu held.
func (m *meter) disarm() {
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
}

// stop disarms the watchdog and sends a final progress report.
func (m *meter) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarm()
	if m.progress != nil {
		m.progress(m.count)
	}
}

func (m *meter) Count() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *meter) Exceeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exceeded
}

// Err is the first error from the source side, excluding EOF.
func (m *meter) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// limitedWriter refuses to write past limit bytes.
type limitedWriter struct {
	w        io.Writer
	limit    int64
	written  int64
	exceeded bool
	// Bytes offered, including any refused
	offered int64
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	w.offered += int64(len(p))
	if w.exceeded || w.written+int64(len(p)) > w.limit {
		w.exceeded = true
		return 0, errCeilingReached
	}
	n, err := w.w.Write(p)
	w.written += int64(n)
	return n, err
}
