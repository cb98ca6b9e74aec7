package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"rekapo/internal/domain"
	"rekapo/internal/ports"
)

// activeSession owns every resource of one recording: the backend session,
// its channel, the capture cancellation token and the goroutines started for it.
type activeSession struct {
	session domain.RecordingSession
	channel ports.TranscriptionChannel

	// ctx is the cancellation token shared by the capture loop.
	ctx    context.Context
	cancel context.CancelFunc

	// stopping is set exactly once by whichever stop path wins.
	stopping atomic.Bool

	view        *transcriptView
	transmitter *transmitter
	results     chan transmitResult

	captureDone   chan struct{}
	reconcileDone chan struct{}

	stateMu sync.Mutex
	state   domain.SessionState
}

func (s *activeSession) setState(state domain.SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
}

func (s *activeSession) getState() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// expectedStop reports whether a channel close is the result of a stop we started.
func (s *activeSession) expectedStop() bool {
	return s.stopping.Load()
}

// transmitResult is what a detached transmission reports back to the reconciler.
type transmitResult struct {
	chunk domain.AudioChunk
	err   error
}
