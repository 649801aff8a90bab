package transfer

import (
	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/generic"
)

// Observer is told about the progress of executions. Calls for one execution come from whichever goroutine is moving
// its bytes, so implementations must be safe for concurrent use and must not block.
type Observer interface {
	StageChanged(selection mediafetch.PendingSelection, stage mediafetch.Stage)
	Progress(selection mediafetch.PendingSelection, transferred int64, total generic.Option[int64])
}

// ObserverFuncs adapts optional functions to the Observer interface.
type ObserverFuncs struct {
	OnStage    func(selection mediafetch.PendingSelection, stage mediafetch.Stage)
	OnProgress func(selection mediafetch.PendingSelection, transferred int64, total generic.Option[int64])
}

func (o ObserverFuncs) StageChanged(selection mediafetch.PendingSelection, stage mediafetch.Stage) {
	if o.OnStage != nil {
		o.OnStage(selection, stage)
	}
}

func (o ObserverFuncs) Progress(selection mediafetch.PendingSelection, transferred int64, total generic.Option[int64]) {
	if o.OnProgress != nil {
		o.OnProgress(selection, transferred, total)
	}
}
