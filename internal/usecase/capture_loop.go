package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rekapo/internal/domain"
	"rekapo/internal/ports"
)

// chunkSink receives captured chunks. Dispatch must not block on transmission.
type chunkSink interface {
	Dispatch(chunk domain.AudioChunk)
}

// captureLoop records fixed-duration chunks back to back. The next capture
// starts as soon as the previous one is stopped and handed off.
type captureLoop struct {
	recorder     ports.AudioRecorder
	sink         chunkSink
	hardLimit    time.Duration
	minDuration  time.Duration
	maxRetries   int
	retryBackoff time.Duration
	now          func() time.Time
	logger       *zap.SugaredLogger

	// onFatal is called once when the retry budget is exhausted.
	onFatal func(err error)
}

func (l *captureLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	failures := 0
	index := 1
	for {
		if ctx.Err() != nil {
			return
		}

		chunk, err := l.captureOne(ctx, index)
		switch {
		case err == nil:
			failures = 0
			if chunk != nil {
				l.sink.Dispatch(*chunk)
				index++
			}
			continue
		case errors.Is(err, domain.ErrDeviceReleased):
			l.logger.Debugw("recording device released, capture loop exiting")
			return
		case ctx.Err() != nil:
			return
		}

		// A budget of n retries allows n+1 consecutive attempts.
		failures++
		if failures > l.maxRetries {
			l.logger.Errorw("capture retry budget exhausted", "failures", failures, "error", err)
			l.onFatal(fmt.Errorf("%w: %v", domain.ErrRecordingFailed, err))
			return
		}
		l.logger.Warnw("capture cycle failed, retrying", "attempt", failures, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.retryBackoff):
		}
	}
}

// captureOne records a single chunk. It returns a nil chunk without error when
// the chunk was cancelled or too short to send.
func (l *captureLoop) captureOne(ctx context.Context, index int) (*domain.AudioChunk, error) {
	// The device's own state is authoritative: never start over a live capture.
	if l.recorder.IsRecording() {
		path, err := l.recorder.Stop(ctx)
		if err != nil && !errors.Is(err, domain.ErrNotRecording) {
			return nil, fmt.Errorf("stop stale capture: %w", err)
		}
		removeChunkFile(path, l.logger)
	}

	if err := l.recorder.Prepare(ctx); err != nil {
		return nil, fmt.Errorf("prepare recorder: %w", err)
	}
	if err := l.recorder.Start(ctx); err != nil {
		return nil, fmt.Errorf("start recorder: %w", err)
	}
	startedAt := l.now()

	timer := time.NewTimer(l.hardLimit)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		l.stopOnCancel()
		return nil, nil
	case <-timer.C:
	}
	if ctx.Err() != nil {
		l.stopOnCancel()
		return nil, nil
	}

	path, err := l.recorder.Stop(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotRecording) && ctx.Err() != nil {
			// Stop raced us to the device.
			return nil, nil
		}
		return nil, fmt.Errorf("stop recorder: %w", err)
	}

	duration := l.now().Sub(startedAt)
	if duration < l.minDuration {
		l.logger.Debugw("dropping short chunk", "chunk", index, "duration", duration)
		removeChunkFile(path, l.logger)
		return nil, nil
	}

	return &domain.AudioChunk{
		Index:     index,
		Path:      path,
		Duration:  duration,
		StartedAt: startedAt,
	}, nil
}

// stopOnCancel ends the capture in progress without emitting a chunk.
func (l *captureLoop) stopOnCancel() {
	path, err := l.recorder.Stop(context.Background())
	switch {
	case err == nil:
		removeChunkFile(path, l.logger)
	case errors.Is(err, domain.ErrNotRecording), errors.Is(err, domain.ErrDeviceReleased):
	default:
		l.logger.Warnw("failed to stop recorder after cancellation", "error", err)
	}
}
