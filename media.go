package mediafetch

import (
	"fmt"
	"time"

	"github.com/alanbriolat/media-fetch/generic"
)

// A MediaRef identifies a piece of remote media. Only created by ProviderRegistry.Match.
type MediaRef struct {
	// Normalized URL of the media page.
	SourceURL string `json:"source_url"`
	// Platform-specific identifier extracted from the URL.
	CanonicalID string `json:"canonical_id"`
	// Name of the Provider that matched the URL.
	Provider string `json:"provider"`
}

func (r MediaRef) String() string {
	return fmt.Sprintf("%s [%s:%s]", r.SourceURL, r.Provider, r.CanonicalID)
}

// BackendKind records which extraction strategy produced a FormatDescriptor. Selectors are only meaningful to the
// backend that issued them.
type BackendKind int

const (
	BackendPrimary BackendKind = iota
	BackendFallback
)

func (k BackendKind) String() string {
	switch k {
	case BackendPrimary:
		return "primary"
	case BackendFallback:
		return "fallback"
	default:
		return fmt.Sprintf("BackendKind(%d)", int(k))
	}
}

// A FormatDescriptor is one downloadable rendition as reported by a Backend.
type FormatDescriptor struct {
	Label     string `json:"label"`
	Selector  string `json:"selector"`
	Container string `json:"container"`
	HasVideo  bool   `json:"has_video"`
	HasAudio  bool   `json:"has_audio"`
	Height    int    `json:"height,omitempty"`
	// Bits per second.
	Bitrate       generic.Option[int64] `json:"bitrate"`
	ContentLength generic.Option[int64] `json:"content_length"`
	Backend       BackendKind           `json:"backend"`
}

// IsAudioOnly is true for renditions carrying audio and no video.
func (f FormatDescriptor) IsAudioOnly() bool {
	return f.HasAudio && !f.HasVideo
}

func (f FormatDescriptor) String() string {
	return fmt.Sprintf("%s (%s %s/%s)", f.Label, f.Container, f.Backend, f.Selector)
}

// Metadata is the raw resolution result of a Backend, before catalog building.
type Metadata struct {
	Title    string
	Author   string
	Duration generic.Option[time.Duration]
	Formats  []FormatDescriptor
}

// A Catalog is the ranked, deduplicated set of renditions offered for one MediaRef.
type Catalog struct {
	Title    string
	Author   string
	Duration generic.Option[time.Duration]
	// Unique by Label, best first.
	Video []FormatDescriptor
	// The best audio-only rendition, if any.
	Audio generic.Option[FormatDescriptor]
}

// IsEmpty reports the "no downloadable formats" result, which is not an error.
func (c *Catalog) IsEmpty() bool {
	return len(c.Video) == 0 && c.Audio.IsNone()
}

// Labels returns the video labels in catalog order.
func (c *Catalog) Labels() []string {
	labels := make([]string, 0, len(c.Video))
	for _, f := range c.Video {
		labels = append(labels, f.Label)
	}
	return labels
}

// FindVideo looks up a video rendition by label.
func (c *Catalog) FindVideo(label string) (FormatDescriptor, bool) {
	for _, f := range c.Video {
		if f.Label == label {
			return f, true
		}
	}
	return FormatDescriptor{}, false
}

// A PendingSelection is a rendition chosen for later execution, keyed by an opaque token.
type PendingSelection struct {
	Token     string                        `json:"token"`
	Ref       MediaRef                      `json:"ref"`
	Format    FormatDescriptor              `json:"format"`
	IsAudio   bool                          `json:"is_audio"`
	Title     string                        `json:"title"`
	Author    string                        `json:"author"`
	Duration  generic.Option[time.Duration] `json:"duration"`
	CreatedAt time.Time                     `json:"created_at"`
}

// Stage is a step of executing a PendingSelection.
type Stage string

const (
	StageFetching     Stage = "fetching"
	StageTranscoding  Stage = "transcoding"
	StageSizeChecking Stage = "size-checking"
	StageDelivering   Stage = "delivering"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

type TransferStrategy string

const (
	// Fetched bytes piped straight to the Sink.
	StrategyStreamed TransferStrategy = "streamed"
	// Fetched (and transcoded) into a temporary file, measured, then delivered.
	StrategyBuffered TransferStrategy = "buffered"
)

// An Outcome describes a successfully delivered selection.
type Outcome struct {
	Token    string
	Filename string
	Size     int64
	Strategy TransferStrategy
	Format   FormatDescriptor
	IsAudio  bool
}
