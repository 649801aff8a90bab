package mediafetch

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateProvider = errors.New("duplicate provider name")
	ErrInvalidProvider   = errors.New("invalid provider")
	ErrNoMatch           = errors.New("no provider matched the input")
	ErrUnknownProvider   = errors.New("unknown provider")

	ErrFormatNotFound   = errors.New("format no longer offered by backend")
	ErrNoBackend        = errors.New("no backend for format")
	ErrSelectionExpired = errors.New("selection expired or already used, resolve the URL again")
	ErrStalled          = errors.New("transfer stalled")
)

// ResolutionError means no backend could resolve the media, or the URL does not identify any media.
type ResolutionError struct {
	URL string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// SizeRejectedError means an estimated or measured size is over the ceiling, or the size cannot be verified at all.
type SizeRejectedError struct {
	Size    int64
	Ceiling int64
	// Size came from a bitrate estimate or a reported length rather than counted bytes.
	Estimated bool
	// No size signal was available.
	Unknown bool
	// Transfer was cut off at the ceiling, so Size is a lower bound.
	Truncated bool
}

func (e *SizeRejectedError) Error() string {
	switch {
	case e.Unknown:
		return fmt.Sprintf("cannot verify size against limit of %s", FormatBytes(e.Ceiling))
	case e.Truncated:
		return fmt.Sprintf("size exceeds limit of %s", FormatBytes(e.Ceiling))
	case e.Estimated:
		return fmt.Sprintf("estimated size %s exceeds limit of %s", FormatBytes(e.Size), FormatBytes(e.Ceiling))
	default:
		return fmt.Sprintf("size %s exceeds limit of %s", FormatBytes(e.Size), FormatBytes(e.Ceiling))
	}
}

// TransferError is a network, backend or transcoder failure while executing a selection. Always retryable by the
// requester; never retried automatically.
type TransferError struct {
	Stage   Stage
	Timeout bool
	Err     error
}

func (e *TransferError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transfer timed out while %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("transfer failed while %s: %v", e.Stage, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// DeliveryError means the Sink rejected the upload.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsRetryable is true for failures the requester may simply try again.
func IsRetryable(err error) bool {
	var transferErr *TransferError
	return errors.As(err, &transferErr)
}

// FormatBytes renders a byte count for humans, e.g. "48.2 MB".
func FormatBytes(n int64) string {
	const unit = 1000
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "kMGTPE"[exp])
}
