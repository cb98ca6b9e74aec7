package ports

import (
	"context"

	"rekapo/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioRecorder is the microphone device. One instance records at most one
// chunk at a time: Prepare, Start and Stop are strictly sequential per chunk.
// Calls after Release fail with domain.ErrDeviceReleased.
type AudioRecorder interface {
	Prepare(ctx context.Context) error
	Start(ctx context.Context) error
	// Stop ends the current capture and returns the recorded file path.
	// It returns domain.ErrNotRecording when nothing is being captured.
	Stop(ctx context.Context) (string, error)
	IsRecording() bool
	Release() error
}

// PermissionChecker reports whether the microphone may be used.
type PermissionChecker interface {
	MicrophoneGranted(ctx context.Context) (bool, error)
}

// TokenSource supplies the bearer token for backend calls. An empty token
// means the request is sent unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// MeetingsAPI is the REST side of the transcription backend.
type MeetingsAPI interface {
	Health(ctx context.Context) error
	CreateMeeting(ctx context.Context, title string) (domain.RecordingSession, error)
	CompleteMeeting(ctx context.Context, id string) (domain.RecordingSession, error)
}

// AudioChunkMessage is one outbound chunk on the transcription channel.
type AudioChunkMessage struct {
	AudioData  string  `json:"audio_data"`
	FilterHint *string `json:"filter_hint"`
	ModelSize  string  `json:"model_size"`
}

// TranscriptionChannel is one open realtime connection for a session.
type TranscriptionChannel interface {
	State() domain.ChannelState
	SendAudioChunk(msg AudioChunkMessage) error
	// Events is closed once the connection has terminated.
	Events() <-chan domain.ServerEvent
	// Err reports why the connection terminated; nil for a clean close.
	Err() error
	Close() error
}

// ChannelDialer opens transcription channels. Open returns only once the
// channel is open.
type ChannelDialer interface {
	Open(ctx context.Context, sessionID string) (TranscriptionChannel, error)
}

// Journal keeps a local record of sessions and their transcript.
type Journal interface {
	SaveSession(ctx context.Context, session domain.RecordingSession) error
	AppendSegment(ctx context.Context, sessionID string, segment domain.TranscriptSegment) error
	AppendSummary(ctx context.Context, sessionID string, summary domain.SummaryRecord) error
	CompleteSession(ctx context.Context, sessionID string) error
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink emits recorder state and events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	StatusText(text string)
	ProcessingChanged(active bool)
	SegmentAppended(segment domain.TranscriptSegment)
	SummaryAppended(summary domain.SummaryRecord)
	SessionError(code domain.ErrorCode, detail string)
}
