package session

import (
	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/generic"
)

type Event interface {
	// The token of the selection this event relates to (empty if not selection-specific).
	Token() string
}

type selectionEvent struct {
	selection mediafetch.PendingSelection
}

func (e selectionEvent) Token() string {
	return e.selection.Token
}

func (e selectionEvent) Selection() mediafetch.PendingSelection {
	return e.selection
}

type ResolveFinished struct {
	URL   string
	Offer *Offer
	Err   error
}

func (e ResolveFinished) Token() string {
	return ""
}

type TransferStageChanged struct {
	selectionEvent
	Stage mediafetch.Stage
}

type TransferProgress struct {
	selectionEvent
	Transferred int64
	Total       generic.Option[int64]
}

type TransferFinished struct {
	selectionEvent
	Outcome mediafetch.Outcome
	Err     error
}
