package usecase

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"rekapo/internal/domain"
	"rekapo/internal/ports"
)

// transmitter sends each captured chunk on its own goroutine so the capture
// loop never waits for encoding or the network.
type transmitter struct {
	channel    ports.TranscriptionChannel
	view       *transcriptView
	events     ports.EventSink
	results    chan<- transmitResult
	modelSize  string
	filterHint *string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Dispatch hands a chunk over. After drain it only discards the chunk file.
func (t *transmitter) Dispatch(chunk domain.AudioChunk) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.logger.Debugw("discarding chunk captured after stop", "chunk", chunk.Index)
		removeChunkFile(chunk.Path, t.logger)
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go t.send(chunk)
}

// drain refuses new chunks and waits for in-flight ones to finish.
func (t *transmitter) drain() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *transmitter) send(chunk domain.AudioChunk) {
	defer t.wg.Done()
	defer removeChunkFile(chunk.Path, t.logger)

	if t.view.beginTransmit() {
		t.events.ProcessingChanged(true)
	}
	defer func() {
		if t.view.endTransmit() {
			t.events.ProcessingChanged(false)
		}
	}()

	if t.channel.State() != domain.ChannelStateOpen {
		t.logger.Warnw("channel not open, dropping chunk", "chunk", chunk.Index, "channel", t.channel.State())
		return
	}

	err := t.transmit(chunk)
	if errors.Is(err, domain.ErrChannelNotOpen) {
		t.logger.Warnw("channel closed while sending, dropping chunk", "chunk", chunk.Index)
		return
	}
	t.results <- transmitResult{chunk: chunk, err: err}
}

func (t *transmitter) transmit(chunk domain.AudioChunk) error {
	payload, err := os.ReadFile(chunk.Path)
	if err != nil {
		return fmt.Errorf("read chunk %d: %w", chunk.Index, err)
	}

	return t.channel.SendAudioChunk(ports.AudioChunkMessage{
		AudioData:  base64.StdEncoding.EncodeToString(payload),
		FilterHint: t.filterHint,
		ModelSize:  t.modelSize,
	})
}

func removeChunkFile(path string, logger *zap.SugaredLogger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnw("failed to remove chunk file", "path", path, "error", err)
	}
}
