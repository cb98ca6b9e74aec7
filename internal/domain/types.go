package domain

import "time"

// SessionState models the recorder lifecycle as seen by the UI.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateStarting  SessionState = "starting"
	SessionStateRecording SessionState = "recording"
	SessionStateStopping  SessionState = "stopping"
	SessionStateError     SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady                          SessionStateReason = "ready"
	SessionReasonStarting                       SessionStateReason = "starting"
	SessionReasonRecordingStarted               SessionStateReason = "recording_started"
	SessionReasonStartFailed                    SessionStateReason = "start_failed"
	SessionReasonStopping                       SessionStateReason = "stopping"
	SessionReasonRecordingStopped               SessionStateReason = "recording_stopped"
	SessionReasonTranscriptCopied               SessionStateReason = "transcript_copied"
	SessionReasonTranscriptReadyClipboardFailed SessionStateReason = "transcript_clipboard_failed"
	SessionReasonNoTranscript                   SessionStateReason = "no_transcript"
	SessionReasonChannelLost                    SessionStateReason = "channel_lost"
	SessionReasonRecordingFailed                SessionStateReason = "recording_failed"
	SessionReasonRulesFailed                    SessionStateReason = "rules_failed"
)

// ErrorCode identifies non-fatal and fatal recorder errors shown to the user.
type ErrorCode string

const (
	ErrorCodeStartup            ErrorCode = "startup"
	ErrorCodePermission         ErrorCode = "permission"
	ErrorCodeBackendUnreachable ErrorCode = "backend_unreachable"
	ErrorCodeSessionCreate      ErrorCode = "session_create"
	ErrorCodeChannelConnect     ErrorCode = "channel_connect"
	ErrorCodeChannelLost        ErrorCode = "channel_lost"
	ErrorCodeRecordingFailed    ErrorCode = "recording_failed"
	ErrorCodeAudioStop          ErrorCode = "audio_stop"
	ErrorCodeTransmit           ErrorCode = "transmit"
	ErrorCodeServer             ErrorCode = "server"
	ErrorCodeSessionComplete    ErrorCode = "session_complete"
	ErrorCodeRules              ErrorCode = "rules"
	ErrorCodeClipboard          ErrorCode = "clipboard"
)

// MeetingStatus is the backend-side lifecycle of a recording session.
type MeetingStatus string

const (
	MeetingStatusCreated   MeetingStatus = "created"
	MeetingStatusRecording MeetingStatus = "recording"
	MeetingStatusCompleted MeetingStatus = "completed"
)

// RecordingSession is the backend session record a recording streams into.
type RecordingSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"sessionTitle"`
	Status    MeetingStatus `json:"status"`
	StartTime time.Time     `json:"startTime"`
}

// AudioChunk is one captured fixed-duration recording, owned by the capture
// loop until it is handed to the transmitter.
type AudioChunk struct {
	Index     int           `json:"index"`
	Path      string        `json:"path"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"startedAt"`
}

// ChannelState tracks the transcription channel connection.
type ChannelState string

const (
	ChannelStateConnecting ChannelState = "connecting"
	ChannelStateOpen       ChannelState = "open"
	ChannelStateClosing    ChannelState = "closing"
	ChannelStateClosed     ChannelState = "closed"
)

// TranscriptSegment is one transcribed chunk as reported by the backend.
type TranscriptSegment struct {
	SegmentNumber  int     `json:"segmentNumber"`
	OriginalText   string  `json:"originalText"`
	TranslatedText string  `json:"translatedText"`
	Language       string  `json:"language"`
	Duration       float64 `json:"durationSeconds"`
}

// SummaryRecord is a periodic backend summary over a range of chunks.
type SummaryRecord struct {
	Text            string `json:"text"`
	ChunkRangeLabel string `json:"chunkRangeLabel"`
	ChunkCount      int    `json:"chunkCount"`
}

// StopResult is returned once recording is stopped and the transcript is finalized.
type StopResult struct {
	SessionID       string `json:"sessionId"`
	Segments        int    `json:"segments"`
	Summaries       int    `json:"summaries"`
	RawTranscript   string `json:"rawTranscript"`
	FinalTranscript string `json:"finalTranscript"`
	Copied          bool   `json:"copied"`
}

// Status summarizes the current runtime status.
type Status struct {
	State        SessionState  `json:"state"`
	Active       bool          `json:"active"`
	SessionID    string        `json:"sessionId,omitempty"`
	Title        string        `json:"title,omitempty"`
	Meeting      MeetingStatus `json:"meeting,omitempty"`
	Channel      ChannelState  `json:"channel,omitempty"`
	Processing   bool          `json:"processing"`
	StatusText   string        `json:"statusText,omitempty"`
	SegmentCount int           `json:"segmentCount"`
	SummaryCount int           `json:"summaryCount"`
	Message      string        `json:"message,omitempty"`
}
