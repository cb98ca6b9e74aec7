package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"rekapo/internal/domain"
	"rekapo/internal/ports"
)

const journalWriteTimeout = 2 * time.Second

// reconciler folds channel events and transmission results into the view.
// It is the only goroutine that appends to the transcript, so events are
// applied strictly in arrival order.
type reconciler struct {
	sessionID string
	channel   ports.TranscriptionChannel
	results   <-chan transmitResult
	view      *transcriptView
	journal   ports.Journal
	events    ports.EventSink
	logger    *zap.SugaredLogger

	// onChannelClosed runs once when the channel's event stream ends.
	onChannelClosed func(err error)
}

func (r *reconciler) run(done chan struct{}) {
	defer close(done)

	events := r.channel.Events()
	results := r.results
	for events != nil || results != nil {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				r.onChannelClosed(r.channel.Err())
				continue
			}
			r.handleEvent(event)
		case result, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			r.handleResult(result)
		}
	}
}

func (r *reconciler) handleEvent(event domain.ServerEvent) {
	switch event.Status {
	case domain.EventStatusProcessing:
		r.setStatus(fmt.Sprintf("Processing segment %d...", event.SegmentNumber))
		if r.view.setProcessing(true) {
			r.events.ProcessingChanged(true)
		}

	case domain.EventStatusSuccess:
		if r.view.setProcessing(false) {
			r.events.ProcessingChanged(false)
		}
		segment := event.Segment()
		if !r.view.appendSegment(segment) {
			r.logger.Warnw("dropping segment that goes back in order", "segment_number", segment.SegmentNumber)
			return
		}
		r.setStatus(fmt.Sprintf("Segment %d transcribed", segment.SegmentNumber))
		r.events.SegmentAppended(segment)
		r.journalWrite("append segment", func(ctx context.Context) error {
			return r.journal.AppendSegment(ctx, r.sessionID, segment)
		})

	case domain.EventStatusSummary:
		text := strings.TrimSpace(event.Summary)
		if text == "" {
			r.logger.Debugw("ignoring empty summary", "chunk_count", event.ChunkCount)
			return
		}
		summary := r.view.appendSummary(text, event.ChunkCount)
		r.events.SummaryAppended(summary)
		r.journalWrite("append summary", func(ctx context.Context) error {
			return r.journal.AppendSummary(ctx, r.sessionID, summary)
		})

	case domain.EventStatusError:
		message := strings.TrimSpace(event.Message)
		if message == "" {
			message = "transcription failed for a chunk"
		}
		r.setStatus("Error: " + message)
		r.events.SessionError(domain.ErrorCodeServer, message)

	default:
		r.logger.Debugw("ignoring channel event with unknown status", "status", event.Status)
	}
}

func (r *reconciler) handleResult(result transmitResult) {
	if result.err != nil {
		r.logger.Errorw("chunk transmission failed", "chunk", result.chunk.Index, "error", result.err)
		r.events.SessionError(domain.ErrorCodeTransmit, fmt.Sprintf("failed to send chunk %d: %v", result.chunk.Index, result.err))
		return
	}
	r.logger.Debugw("chunk sent", "chunk", result.chunk.Index, "duration", result.chunk.Duration)
	if r.view.markRecording() {
		r.logger.Infow("session is recording", "session_id", r.sessionID)
	}
}

func (r *reconciler) setStatus(text string) {
	r.view.setStatusText(text)
	r.events.StatusText(text)
}

func (r *reconciler) journalWrite(op string, write func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := write(ctx); err != nil {
		r.logger.Warnw("journal write failed", "op", op, "error", err)
	}
}
