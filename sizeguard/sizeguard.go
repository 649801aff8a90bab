package sizeguard

import (
	"time"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/generic"
)

// Guard rejects renditions that would produce an artifact larger than Ceiling bytes.
type Guard struct {
	Ceiling int64
}

func New(ceiling int64) Guard {
	return Guard{Ceiling: ceiling}
}

// EstimateSize returns the reported content length, or failing that bitrate/8 * duration.
func EstimateSize(format mediafetch.FormatDescriptor, duration generic.Option[time.Duration]) (int64, bool) {
	if length, ok := format.ContentLength.Get(); ok {
		return length, true
	}
	bitrate, hasBitrate := format.Bitrate.Get()
	d, hasDuration := duration.Get()
	if !hasBitrate || !hasDuration || bitrate <= 0 || d <= 0 {
		return 0, false
	}
	return int64(float64(bitrate) / 8 * d.Seconds()), true
}

// CheckPre decides from declared metadata alone. Video with no size signal at all is rejected; audio with no size
// signal is allowed through, and CheckPost still applies once real bytes are known.
func (g Guard) CheckPre(format mediafetch.FormatDescriptor, duration generic.Option[time.Duration], isAudio bool) error {
	size, ok := EstimateSize(format, duration)
	if !ok {
		if isAudio {
			return nil
		}
		return &mediafetch.SizeRejectedError{Ceiling: g.Ceiling, Unknown: true}
	}
	if size > g.Ceiling {
		return &mediafetch.SizeRejectedError{Size: size, Ceiling: g.Ceiling, Estimated: true}
	}
	return nil
}

// CheckPost is the authoritative check on a measured artifact.
func (g Guard) CheckPost(measured int64) error {
	if measured > g.Ceiling {
		return &mediafetch.SizeRejectedError{Size: measured, Ceiling: g.Ceiling}
	}
	return nil
}

// Truncated is the rejection for a transfer cut off on reaching the ceiling.
func (g Guard) Truncated(counted int64) error {
	return &mediafetch.SizeRejectedError{Size: counted, Ceiling: g.Ceiling, Truncated: true}
}
