package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"rekapo/internal/bootstrap"
	"rekapo/internal/domain"
	"rekapo/internal/journal"
)

const (
	eventSession    = "rekapo:session"
	eventStatus     = "rekapo:status"
	eventProcessing = "rekapo:processing"
	eventSegment    = "rekapo:segment"
	eventSummary    = "rekapo:summary"
	eventError      = "rekapo:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services bootstrap.Services
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, &wailsClipboard{})
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(_ context.Context) {
	if a.services.Controller == nil {
		return
	}
	a.services.Close()
}

// StartRecording starts a new recording session with the given title.
func (a *App) StartRecording(title string) (domain.RecordingSession, error) {
	if err := a.requireReady(); err != nil {
		return domain.RecordingSession{}, err
	}
	// The controller reports start failures through the event sink.
	return a.services.Controller.Start(a.ctx, title)
}

// StopRecording stops the active session and returns the finalized transcript.
func (a *App) StopRecording() (domain.StopResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.StopResult{}, err
	}
	return a.services.Controller.Stop(a.ctx)
}

// SetToken replaces the bearer token used for backend calls.
func (a *App) SetToken(token string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Tokens.SetToken(token)
	return nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.services.Controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.services.Controller.Status()
}

// GetSegments returns the transcript of the current or most recent session.
func (a *App) GetSegments() []domain.TranscriptSegment {
	if a.services.Controller == nil {
		return []domain.TranscriptSegment{}
	}
	return a.services.Controller.Segments()
}

// GetSummaries returns the summaries of the current or most recent session.
func (a *App) GetSummaries() []domain.SummaryRecord {
	if a.services.Controller == nil {
		return []domain.SummaryRecord{}
	}
	return a.services.Controller.Summaries()
}

// GetSessionHistory reads a past session back from the local journal.
func (a *App) GetSessionHistory(sessionID string) (journal.History, error) {
	if err := a.requireReady(); err != nil {
		return journal.History{}, err
	}
	history, err := a.services.Journal.History(a.ctx, sessionID)
	if err != nil {
		return journal.History{}, err
	}
	if history == nil {
		return journal.History{}, fmt.Errorf("session %q is not in the journal", sessionID)
	}
	return *history, nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	cfg := a.services.Config

	noiseFilter := "off"
	if hint := cfg.NoiseFilterHint(); hint != nil {
		noiseFilter = *hint
	}
	authenticated := false
	if a.services.Tokens != nil {
		authenticated = a.services.Tokens.Authenticated()
	}

	return map[string]string{
		"backend":          cfg.API.BaseURL,
		"authenticated":    strconv.FormatBool(authenticated),
		"modelSize":        cfg.Stream.ModelSize,
		"noiseFilter":      noiseFilter,
		"chunkDuration":    cfg.Session.ChunkDuration.String(),
		"rulesFile":        cfg.Rules.Path,
		"journal":          cfg.Journal.Path,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services.Controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// StatusText emits the per-segment status line.
func (a *App) StatusText(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventStatus, map[string]string{"text": text})
}

// ProcessingChanged toggles the processing indicator.
func (a *App) ProcessingChanged(active bool) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventProcessing, map[string]bool{"active": active})
}

func (a *App) SegmentAppended(segment domain.TranscriptSegment) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSegment, segment)
}

func (a *App) SummaryAppended(summary domain.SummaryRecord) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSummary, summary)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready to record"
	case domain.SessionReasonStarting:
		return "Connecting..."
	case domain.SessionReasonRecordingStarted:
		return "Recording"
	case domain.SessionReasonStartFailed:
		return "Could not start recording"
	case domain.SessionReasonStopping:
		return "Stopping..."
	case domain.SessionReasonRecordingStopped:
		return "Recording stopped"
	case domain.SessionReasonTranscriptCopied:
		return "Transcript copied to clipboard"
	case domain.SessionReasonTranscriptReadyClipboardFailed:
		return "Transcript ready (clipboard write failed)"
	case domain.SessionReasonNoTranscript:
		return "No transcript captured"
	case domain.SessionReasonChannelLost:
		return "Connection lost. Recording stopped"
	case domain.SessionReasonRecordingFailed:
		return "Recording failed. Too many errors"
	case domain.SessionReasonRulesFailed:
		return "Rules processing failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermission:
		return "Microphone permission denied"
	case domain.ErrorCodeBackendUnreachable:
		return "Cannot reach the transcription server. Check the backend URL and that the server is running"
	case domain.ErrorCodeSessionCreate:
		return "Failed to create a recording session"
	case domain.ErrorCodeChannelConnect:
		return "Failed to connect to the transcription stream"
	case domain.ErrorCodeChannelLost:
		return "Connection to the transcription stream was lost"
	case domain.ErrorCodeRecordingFailed:
		return "Recording failed"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeTransmit:
		return "Failed to send audio"
	case domain.ErrorCodeSessionComplete:
		return "Failed to finalize the session"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
