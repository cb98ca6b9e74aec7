package domain

import "errors"

var (
	ErrPermissionDenied   = errors.New("microphone permission denied")
	ErrBackendUnreachable = errors.New("transcription backend unreachable")
	ErrSessionCreate      = errors.New("failed to create recording session")
	ErrChannelConnect     = errors.New("failed to open transcription channel")
	ErrChannelLost        = errors.New("transcription channel lost")
	ErrChannelNotOpen     = errors.New("transcription channel is not open")

	// ErrDeviceReleased means the recording device was torn down underneath
	// the capture loop. It ends the loop silently.
	ErrDeviceReleased = errors.New("recording device released")
	// ErrNotRecording is returned when stopping a device that is already stopped.
	ErrNotRecording = errors.New("recording device is not recording")
	// ErrRecordingFailed means the capture loop exhausted its retry budget.
	ErrRecordingFailed = errors.New("recording failed: too many errors")
)
