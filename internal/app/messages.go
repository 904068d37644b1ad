package app

import (
	"github.com/jwulff/medibot/internal/recorder"
)

// ChatChangedMsg is sent when the chat session appended a turn or
// toggled its pending state.
type ChatChangedMsg struct{}

// VideoChangedMsg is sent on every video job transition.
type VideoChangedMsg struct{}

// RecorderChangedMsg is sent when the recorder changes state.
type RecorderChangedMsg struct{}

// AnalysisDoneMsg carries the result of summarizing patient data.
type AnalysisDoneMsg struct {
	Summary string
	Cached  bool
	Err     error
}

// ChatDoneMsg is sent when a chat submission returns.
type ChatDoneMsg struct {
	Err error
}

// RecordStartedMsg is sent once the capture device was acquired or
// refused.
type RecordStartedMsg struct {
	Err error
}

// RecordStoppedMsg carries the finalized recording.
type RecordStoppedMsg struct {
	Audio recorder.Audio
	Err   error
}

// TranscribedMsg carries text produced from a recording.
type TranscribedMsg struct {
	Text string
	Err  error
}

// VideoRequestedMsg is sent after a video request, retry or cancel was
// handed to the poller.
type VideoRequestedMsg struct {
	Err error
}

// ReplayDoneMsg is sent after replaying reply audio.
type ReplayDoneMsg struct {
	Err error
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct {
	Seq int
}

// ShutdownDoneMsg is sent once every component has been torn down.
type ShutdownDoneMsg struct {
	Err error
}
