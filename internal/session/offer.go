package session

import (
	"github.com/alanbriolat/media-fetch"
)

// A Choice is one rendition the requester can pick, identified only by its token.
type Choice struct {
	Token   string
	Label   string
	IsAudio bool
	Format  mediafetch.FormatDescriptor
}

// Offer is the result of resolving a URL: the catalog plus a token for each rendition in it.
type Offer struct {
	Ref     mediafetch.MediaRef
	Served  mediafetch.BackendKind
	Catalog mediafetch.Catalog
	// Video choices in catalog order, then audio.
	Choices []Choice
}

func (o *Offer) IsEmpty() bool {
	return len(o.Choices) == 0
}

// Video finds the video choice with the given label.
func (o *Offer) Video(label string) (Choice, bool) {
	for _, c := range o.Choices {
		if !c.IsAudio && c.Label == label {
			return c, true
		}
	}
	return Choice{}, false
}

func (o *Offer) Audio() (Choice, bool) {
	for _, c := range o.Choices {
		if c.IsAudio {
			return c, true
		}
	}
	return Choice{}, false
}
