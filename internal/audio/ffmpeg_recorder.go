package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rekapo/internal/domain"
	"rekapo/internal/ports"
)

const (
	wavPCMFormat  = 1
	bitsPerSample = 16
	startupGrace  = 250 * time.Millisecond
	stopGrace     = 1200 * time.Millisecond
)

// FFMPEGRecorder captures microphone audio with ffmpeg and writes each
// capture as a standalone WAV chunk file.
type FFMPEGRecorder struct {
	command  string
	cfg      ports.AudioConfig
	chunkDir string
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	prepared string
	active   *capture
	released bool
}

func NewFFMPEGRecorder(command string, cfg ports.AudioConfig, chunkDir string, logger *zap.SugaredLogger) *FFMPEGRecorder {
	if command == "" {
		command = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if chunkDir == "" {
		chunkDir = filepath.Join(os.TempDir(), "rekapo-chunks")
	}
	return &FFMPEGRecorder{command: command, cfg: cfg, chunkDir: chunkDir, logger: logger}
}

// Prepare allocates the output file for the next chunk.
func (r *FFMPEGRecorder) Prepare(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return domain.ErrDeviceReleased
	}
	if r.active != nil {
		return errors.New("recorder is already capturing")
	}
	if err := os.MkdirAll(r.chunkDir, 0o755); err != nil {
		return fmt.Errorf("create chunk directory: %w", err)
	}
	r.prepared = filepath.Join(r.chunkDir, "chunk-"+uuid.NewString()+".wav")
	return nil
}

// Start launches ffmpeg and streams its PCM output into the prepared file.
func (r *FFMPEGRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return domain.ErrDeviceReleased
	}
	if r.active != nil {
		return errors.New("recorder is already capturing")
	}
	if r.prepared == "" {
		return errors.New("recorder is not prepared")
	}

	path := r.prepared
	r.prepared = ""

	c, err := r.startCapture(ctx, path)
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	r.active = c
	return nil
}

// Stop ends the running capture and returns the finished WAV path.
func (r *FFMPEGRecorder) Stop(_ context.Context) (string, error) {
	r.mu.Lock()
	c := r.active
	r.active = nil
	released := r.released
	r.mu.Unlock()

	if c == nil {
		if released {
			return "", domain.ErrDeviceReleased
		}
		return "", domain.ErrNotRecording
	}
	if err := c.stop(); err != nil {
		return "", err
	}
	return c.path, nil
}

func (r *FFMPEGRecorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Release stops any running capture, discards its file and makes every
// later call fail with domain.ErrDeviceReleased.
func (r *FFMPEGRecorder) Release() error {
	r.mu.Lock()
	c := r.active
	r.active = nil
	r.prepared = ""
	r.released = true
	r.mu.Unlock()

	if c == nil {
		return nil
	}
	err := c.stop()
	_ = os.Remove(c.path)
	return err
}

func (r *FFMPEGRecorder) startCapture(ctx context.Context, path string) (*capture, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", r.cfg.InputFormat,
		"-i", r.cfg.InputDevice,
		"-ac", strconv.Itoa(r.cfg.Channels),
		"-ar", strconv.Itoa(r.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	// The process outlives the Start call; ctx only bounds startup.
	cmd := exec.Command(r.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = stopGrace

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create chunk file: %w", err)
	}
	encoder := wav.NewEncoder(file, r.cfg.SampleRate, bitsPerSample, r.cfg.Channels, wavPCMFormat)
	cmd.Stdout = newPCMWriter(encoder, r.cfg)

	if err := cmd.Start(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	c := &capture{
		path:    path,
		process: cmd.Process,
		stderr:  &stderr,
		waitErr: make(chan error, 1),
		file:    file,
		encoder: encoder,
	}
	go func() {
		c.waitErr <- cmd.Wait()
		close(c.waitErr)
	}()

	select {
	case err := <-c.waitErr:
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-ctx.Done():
		_ = c.stop()
		return nil, ctx.Err()
	case <-time.After(startupGrace):
	}

	r.logger.Debugw("capture started", "path", path)
	return c, nil
}

type capture struct {
	path    string
	process *os.Process
	stderr  *bytes.Buffer

	waitErr chan error

	file    *os.File
	encoder *wav.Encoder

	stopOnce sync.Once
	stopErr  error
}

// stop interrupts ffmpeg, kills it after a grace period and finalizes the WAV header.
func (c *capture) stop() error {
	c.stopOnce.Do(func() {
		if c.process != nil {
			_ = c.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-c.waitErr:
			if ok {
				c.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if c.process != nil {
				_ = c.process.Kill()
			}
			err, ok := <-c.waitErr
			if ok {
				c.stopErr = normalizeStopErr(err)
			}
		}

		if err := c.encoder.Close(); err != nil && c.stopErr == nil {
			c.stopErr = fmt.Errorf("finalize wav: %w", err)
		}
		if err := c.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) && c.stopErr == nil {
			c.stopErr = err
		}

		if c.stopErr != nil && c.stderr != nil && c.stderr.Len() > 0 {
			c.stopErr = fmt.Errorf("%w: %s", c.stopErr, stringsTrimSpaceSafe(c.stderr.String()))
		}
	})
	return c.stopErr
}

// pcmWriter converts signed 16-bit little-endian PCM into WAV samples.
// exec copies ffmpeg's stdout into it, so Wait returns only after the last
// sample has been encoded.
type pcmWriter struct {
	encoder *wav.Encoder
	format  *goaudio.Format
	carry   []byte
}

func newPCMWriter(encoder *wav.Encoder, cfg ports.AudioConfig) *pcmWriter {
	return &pcmWriter{
		encoder: encoder,
		format:  &goaudio.Format{NumChannels: cfg.Channels, SampleRate: cfg.SampleRate},
	}
}

func (w *pcmWriter) Write(p []byte) (int, error) {
	data := append(w.carry, p...)
	usable := len(data) - len(data)%2

	samples := make([]int, usable/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	w.carry = append(w.carry[:0:0], data[usable:]...)

	if len(samples) == 0 {
		return len(p), nil
	}
	buf := &goaudio.IntBuffer{Format: w.format, Data: samples, SourceBitDepth: bitsPerSample}
	if err := w.encoder.Write(buf); err != nil {
		return 0, fmt.Errorf("write wav samples: %w", err)
	}
	return len(p), nil
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
