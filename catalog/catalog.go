package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/generic"
)

const DefaultMaxRenditions = 5

// UnknownLabel is given to video renditions with no quality label, height or bitrate.
const UnknownLabel = "unknown"

// DefaultContainers are the containers a delivery sink is expected to handle.
var DefaultContainers = []string{"mp4", "webm", "m4a", "mp3", "ogg", "opus", "3gp", "3gpp", "mkv", "mov", "flv", "aac"}

// Builder turns raw backend metadata into a Catalog. A Builder is immutable after construction and may be shared.
type Builder struct {
	Containers    generic.Set[string]
	MaxRenditions int
}

func NewBuilder(maxRenditions int) *Builder {
	if maxRenditions <= 0 {
		maxRenditions = DefaultMaxRenditions
	}
	return &Builder{
		Containers:    generic.NewSet(DefaultContainers...),
		MaxRenditions: maxRenditions,
	}
}

// Build deduplicates and ranks the video renditions and picks the best audio-only rendition. The result depends only
// on the input, including its order.
func (b *Builder) Build(metadata *mediafetch.Metadata) mediafetch.Catalog {
	result := mediafetch.Catalog{
		Title:    metadata.Title,
		Author:   metadata.Author,
		Duration: metadata.Duration,
	}

	var labels []string
	byLabel := make(map[string]mediafetch.FormatDescriptor)
	var audio generic.Option[mediafetch.FormatDescriptor]

	for _, format := range metadata.Formats {
		if !b.usable(format) {
			continue
		}
		switch {
		case format.HasVideo && format.HasAudio:
			format.Label = DeriveLabel(format)
			if current, found := byLabel[format.Label]; !found {
				labels = append(labels, format.Label)
				byLabel[format.Label] = format
			} else if isLarger(format, current) {
				byLabel[format.Label] = format
			}
		case format.IsAudioOnly():
			if best, ok := audio.Get(); !ok || hasHigherBitrate(format, best) {
				audio = generic.Some(format)
			}
		}
	}

	sort.SliceStable(labels, func(i, j int) bool {
		qi, oki := LabelQuality(labels[i])
		qj, okj := LabelQuality(labels[j])
		switch {
		case oki && okj:
			return qi > qj
		default:
			// Numeric labels before non-numeric ones, otherwise keep listing order
			return oki && !okj
		}
	})
	if len(labels) > b.MaxRenditions {
		labels = labels[:b.MaxRenditions]
	}
	for _, label := range labels {
		result.Video = append(result.Video, byLabel[label])
	}

	if best, ok := audio.Get(); ok {
		best.Label = audioLabel(best)
		result.Audio = generic.Some(best)
	}
	return result
}

func (b *Builder) usable(format mediafetch.FormatDescriptor) bool {
	if !format.HasVideo && !format.HasAudio {
		return false
	}
	return b.Containers.Contains(strings.ToLower(format.Container))
}

// A candidate only replaces the kept format when both lengths are known and it is larger, or only its length is known.
func isLarger(candidate, current mediafetch.FormatDescriptor) bool {
	candidateLength, candidateOk := candidate.ContentLength.Get()
	currentLength, currentOk := current.ContentLength.Get()
	switch {
	case candidateOk && currentOk:
		return candidateLength > currentLength
	default:
		return candidateOk && !currentOk
	}
}

func hasHigherBitrate(candidate, current mediafetch.FormatDescriptor) bool {
	candidateBitrate, candidateOk := candidate.Bitrate.Get()
	currentBitrate, currentOk := current.Bitrate.Get()
	switch {
	case candidateOk && currentOk:
		return candidateBitrate > currentBitrate
	default:
		return candidateOk && !currentOk
	}
}

// DeriveLabel is the explicit quality label if there is one, else "<height>p", else "<kbps>k", else UnknownLabel.
func DeriveLabel(format mediafetch.FormatDescriptor) string {
	if label := strings.TrimSpace(format.Label); label != "" {
		return label
	}
	if format.Height > 0 {
		return fmt.Sprintf("%dp", format.Height)
	}
	if bitrate, ok := format.Bitrate.Get(); ok && bitrate > 0 {
		return bitrateLabel(bitrate)
	}
	return UnknownLabel
}

func audioLabel(format mediafetch.FormatDescriptor) string {
	if label := strings.TrimSpace(format.Label); label != "" {
		return label
	}
	if bitrate, ok := format.Bitrate.Get(); ok && bitrate > 0 {
		return bitrateLabel(bitrate)
	}
	return "audio"
}

func bitrateLabel(bitsPerSecond int64) string {
	return fmt.Sprintf("%dk", (bitsPerSecond+500)/1000)
}

// LabelQuality parses the leading digits of a label, e.g. 720 for "720p60". Labels without leading digits have no
// quality.
func LabelQuality(label string) (int, bool) {
	label = strings.TrimSpace(label)
	end := 0
	for end < len(label) && label[end] >= '0' && label[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	quality, err := strconv.Atoi(label[:end])
	if err != nil {
		return 0, false
	}
	return quality, true
}
