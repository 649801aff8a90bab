package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/download"
	"github.com/alanbriolat/media-fetch/generic"
	"github.com/alanbriolat/media-fetch/sizeguard"
	"github.com/alanbriolat/media-fetch/transcode"
	"github.com/alanbriolat/media-fetch/util"
)

var ErrNoTranscoder = errors.New("no transcoder configured")

// AudioContainer is the container of transcoded audio.
const AudioContainer = "mp3"

// Pipeline executes selections: fetch from the backend, transcode audio, check the size and deliver. Safe for
// concurrent use; executions share nothing but the Observer.
type Pipeline struct {
	Streams    mediafetch.StreamOpener
	Transcoder transcode.Transcoder
	Guard      sizeguard.Guard
	Sink       mediafetch.Sink
	Filenames  *mediafetch.FilenameTemplate
	// Parent for per-execution scratch directories; empty means os.TempDir().
	TempDir string
	// Upper bound for an execution, all stages included; 0 means none.
	Timeout time.Duration
	// Abort when no bytes move for this long; 0 means never.
	StallTimeout time.Duration
	Observer     Observer
}

// Execute runs one selection to completion. Every temporary file it creates is gone by the time it returns.
//
// Errors are *mediafetch.SizeRejectedError, *mediafetch.TransferError (retryable, including timeouts and stalls) or
// *mediafetch.DeliveryError. Anything else is an unexpected local fault, such as a full disk.
func (p *Pipeline) Execute(ctx context.Context, selection mediafetch.PendingSelection) (mediafetch.Outcome, error) {
	e := &execution{
		pipeline:  p,
		selection: selection,
		log: mediafetch.Logger(ctx).Sugar().Named("transfer").With(
			"token", selection.Token,
			"url", selection.Ref.SourceURL,
			"backend", selection.Format.Backend,
			"label", selection.Format.Label,
			"audio", selection.IsAudio,
		),
	}
	e.filename = e.renderFilename()

	if err := p.Guard.CheckPre(selection.Format, selection.Duration, selection.IsAudio); err != nil {
		e.log.Infow("rejected before transfer", "error", err)
		e.setStage(mediafetch.StageFailed)
		return mediafetch.Outcome{}, err
	}

	execCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	outcome, err := e.run(execCtx)
	if err != nil {
		err = e.interrupted(execCtx, err)
		e.log.Infow("failed", "stage", e.currentStage(), "error", err)
		e.setStage(mediafetch.StageFailed)
		return mediafetch.Outcome{}, err
	}
	e.log.Infow("delivered", "filename", outcome.Filename, "bytes", outcome.Size, "strategy", outcome.Strategy)
	e.setStage(mediafetch.StageDone)
	return outcome, nil
}

type execution struct {
	pipeline  *Pipeline
	selection mediafetch.PendingSelection
	filename  string
	log       *zap.SugaredLogger

	mu    sync.Mutex
	stage mediafetch.Stage
}

func (e *execution) setStage(stage mediafetch.Stage) {
	e.mu.Lock()
	e.stage = stage
	e.mu.Unlock()
	e.log.Debugw("stage", "stage", stage)
	if e.pipeline.Observer != nil {
		e.pipeline.Observer.StageChanged(e.selection, stage)
	}
}

func (e *execution) currentStage() mediafetch.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stage
}

func (e *execution) reportProgress(total generic.Option[int64]) func(int64) {
	if e.pipeline.Observer == nil {
		return nil
	}
	return func(transferred int64) {
		e.pipeline.Observer.Progress(e.selection, transferred, total)
	}
}

func (e *execution) extension() string {
	if e.selection.IsAudio {
		return AudioContainer
	}
	if e.selection.Format.Container != "" {
		return e.selection.Format.Container
	}
	return "bin"
}

func (e *execution) renderFilename() string {
	title := e.selection.Title
	if title == "" {
		title, _ = util.TitleFromURL(e.selection.Ref.SourceURL)
	}
	return e.pipeline.Filenames.Render(mediafetch.FilenameArgs{
		Title:    title,
		ID:       e.selection.Ref.CanonicalID,
		Provider: e.selection.Ref.Provider,
		Label:    e.selection.Format.Label,
		Ext:      e.extension(),
	})
}

func (e *execution) caption() mediafetch.Caption {
	return mediafetch.Caption{Title: e.selection.Title, Performer: e.selection.Author}
}

func (e *execution) outcome(size int64, strategy mediafetch.TransferStrategy) mediafetch.Outcome {
	return mediafetch.Outcome{
		Token:    e.selection.Token,
		Filename: e.filename,
		Size:     size,
		Strategy: strategy,
		Format:   e.selection.Format,
		IsAudio:  e.selection.IsAudio,
	}
}

// Streaming needs a video rendition whose declared length is within the ceiling; audio always goes through the
// transcoder, whose output size is unknown until it finishes.
func (e *execution) streamable() bool {
	if e.selection.IsAudio {
		return false
	}
	length, ok := e.selection.Format.ContentLength.Get()
	return ok && length <= e.pipeline.Guard.Ceiling
}

func (e *execution) run(ctx context.Context) (mediafetch.Outcome, error) {
	if e.streamable() {
		outcome, err := e.streamed(ctx)
		var deliveryErr *mediafetch.DeliveryError
		if err == nil || !errors.As(err, &deliveryErr) || ctx.Err() != nil {
			return outcome, err
		}
		e.log.Warnw("streaming delivery failed, retrying through a temporary file", "error", err)
	}
	return e.buffered(ctx)
}

// A timeout or cancellation of the whole execution surfaces as a retryable TransferError, whatever error it caused
// on the way out. Size rejections stand.
func (e *execution) interrupted(ctx context.Context, err error) error {
	ctxErr := ctx.Err()
	if ctxErr == nil {
		return err
	}
	var rejected *mediafetch.SizeRejectedError
	if errors.As(err, &rejected) {
		return err
	}
	return &mediafetch.TransferError{
		Stage:   e.currentStage(),
		Timeout: errors.Is(ctxErr, context.DeadlineExceeded),
		Err:     ctxErr,
	}
}

// sourceError explains a failure by what happened on the source side of the meter, if anything did.
func (e *execution) sourceError(ctx context.Context, m *meter) error {
	if m.Exceeded() {
		return e.pipeline.Guard.Truncated(m.Count())
	}
	if errors.Is(context.Cause(ctx), mediafetch.ErrStalled) {
		return &mediafetch.TransferError{Stage: e.currentStage(), Timeout: true, Err: mediafetch.ErrStalled}
	}
	if err := m.Err(); err != nil {
		return &mediafetch.TransferError{Stage: mediafetch.StageFetching, Err: err}
	}
	return nil
}

func (e *execution) open(ctx context.Context) (io.ReadCloser, generic.Option[int64], error) {
	e.setStage(mediafetch.StageFetching)
	stream, size, err := e.pipeline.Streams.OpenStream(ctx, e.selection.Ref, e.selection.Format)
	if err != nil {
		return nil, size, &mediafetch.TransferError{Stage: mediafetch.StageFetching, Err: err}
	}
	return stream, size, nil
}

// streamed pipes the source straight into the sink.
func (e *execution) streamed(ctx context.Context) (mediafetch.Outcome, error) {
	p := e.pipeline
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stream, size, err := e.open(ctx)
	if err != nil {
		return mediafetch.Outcome{}, err
	}
	defer stream.Close()

	e.setStage(mediafetch.StageSizeChecking)
	if length, ok := size.Get(); ok {
		if err := p.Guard.CheckPost(length); err != nil {
			return mediafetch.Outcome{}, err
		}
	}

	m := newMeter(stream, p.Guard.Ceiling, size, p.StallTimeout, cancel, e.reportProgress(size))
	e.setStage(mediafetch.StageDelivering)
	err = p.Sink.Deliver(ctx, mediafetch.Payload{Reader: m, Size: size}, e.filename, e.caption())
	m.stop()
	if srcErr := e.sourceError(ctx, m); srcErr != nil {
		if err == nil {
			e.log.Warnw("sink accepted a stream that failed at the source", "error", srcErr)
		}
		return mediafetch.Outcome{}, srcErr
	}
	if err != nil {
		return mediafetch.Outcome{}, &mediafetch.DeliveryError{Err: err}
	}
	return e.outcome(m.Count(), mediafetch.StrategyStreamed), nil
}

// buffered fetches (and transcodes) into a scratch file, measures it, then delivers the file.
func (e *execution) buffered(ctx context.Context) (outcome mediafetch.Outcome, err error) {
	p := e.pipeline
	err = download.WithScratch(func(scratch *download.Scratch) error {
		fetchCtx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)

		stream, size, err := e.open(fetchCtx)
		if err != nil {
			return err
		}
		defer stream.Close()

		file, err := scratch.CreateTemp("*." + e.extension())
		if err != nil {
			return fmt.Errorf("failed to create temporary file: %w", err)
		}
		defer file.Close()
		out := &limitedWriter{w: file, limit: p.Guard.Ceiling}

		if e.selection.IsAudio {
			if p.Transcoder == nil {
				return &mediafetch.TransferError{Stage: mediafetch.StageTranscoding, Err: ErrNoTranscoder}
			}
			// The source is only the transcoder input, so the ceiling applies to the transcoder output
			m := newMeter(stream, 0, size, p.StallTimeout, cancel, e.reportProgress(size))
			e.setStage(mediafetch.StageTranscoding)
			err = p.Transcoder.Transcode(fetchCtx, m, out)
			m.stop()
			if srcErr := e.sourceError(fetchCtx, m); srcErr != nil {
				return srcErr
			}
			if out.exceeded {
				return p.Guard.Truncated(out.offered)
			}
			if err != nil {
				return &mediafetch.TransferError{Stage: mediafetch.StageTranscoding, Err: err}
			}
		} else {
			m := newMeter(stream, p.Guard.Ceiling, size, p.StallTimeout, cancel, e.reportProgress(size))
			_, err = io.Copy(out, m)
			m.stop()
			if srcErr := e.sourceError(fetchCtx, m); srcErr != nil {
				return srcErr
			}
			if out.exceeded {
				return p.Guard.Truncated(out.offered)
			}
			if err != nil {
				return fmt.Errorf("failed to write temporary file: %w", err)
			}
		}

		e.setStage(mediafetch.StageSizeChecking)
		info, err := file.Stat()
		if err != nil {
			return err
		}
		if err := p.Guard.CheckPost(info.Size()); err != nil {
			return err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}

		e.setStage(mediafetch.StageDelivering)
		payload := mediafetch.Payload{Reader: file, Size: generic.Some(info.Size()), Path: file.Name()}
		if err := p.Sink.Deliver(ctx, payload, e.filename, e.caption()); err != nil {
			return &mediafetch.DeliveryError{Err: err}
		}
		outcome = e.outcome(info.Size(), mediafetch.StrategyBuffered)
		return nil
	}, download.WithTempDir(p.TempDir), download.WithPrefix("media-fetch-"+mediafetch.SanitizeFilename(e.selection.Token)+"-"))
	return outcome, err
}
