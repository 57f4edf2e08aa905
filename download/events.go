package download

import (
	"time"

	"github.com/trickstertwo/xpool"
)

// Event identities are resolved once at package init.
var (
	StartEventID   = xpool.EventIDOf[StartEvent]()
	UpdateEventID  = xpool.EventIDOf[UpdateEvent]()
	SuccessEventID = xpool.EventIDOf[SuccessEvent]()
	FailureEventID = xpool.EventIDOf[FailureEvent]()
)

// StartEvent is fired when a download moves to Doing.
type StartEvent struct {
	Serial          int64
	Tag             string
	UserData        any
	SourceURI       string
	DestinationPath string
	Attempt         int
}

func (e *StartEvent) EventID() int { return StartEventID }
func (e *StartEvent) Reset()       { *e = StartEvent{} }

// UpdateEvent carries bytes received since the previous update of the same download.
type UpdateEvent struct {
	Serial     int64
	Tag        string
	UserData   any
	Delta      int64
	Downloaded int64
}

func (e *UpdateEvent) EventID() int { return UpdateEventID }
func (e *UpdateEvent) Reset()       { *e = UpdateEvent{} }

// SuccessEvent is fired once a download completed.
type SuccessEvent struct {
	Serial          int64
	Tag             string
	UserData        any
	SourceURI       string
	DestinationPath string
	Downloaded      int64
	Elapsed         time.Duration
}

func (e *SuccessEvent) EventID() int { return SuccessEventID }
func (e *SuccessEvent) Reset()       { *e = SuccessEvent{} }

// FailureEvent is fired when a download ends in failure, timeouts included.
// Removed downloads fire nothing.
type FailureEvent struct {
	Serial          int64
	Tag             string
	UserData        any
	SourceURI       string
	DestinationPath string
	Downloaded      int64
	Failures        int
	TimedOut        bool
	Err             error
}

func (e *FailureEvent) EventID() int { return FailureEventID }
func (e *FailureEvent) Reset()       { *e = FailureEvent{} }

var (
	_ xpool.EventArgs = (*StartEvent)(nil)
	_ xpool.EventArgs = (*UpdateEvent)(nil)
	_ xpool.EventArgs = (*SuccessEvent)(nil)
	_ xpool.EventArgs = (*FailureEvent)(nil)
)
