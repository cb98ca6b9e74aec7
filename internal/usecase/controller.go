package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rekapo/internal/domain"
	"rekapo/internal/logging"
	"rekapo/internal/ports"
)

var (
	ErrNoActiveSession = errors.New("no active recording session")
	ErrSessionActive   = errors.New("a recording session is already active")
	ErrStopInProgress  = errors.New("recording is already stopping")
	ErrShutdown        = errors.New("recorder is shut down")
)

const (
	defaultTitle              = "Untitled Meeting"
	defaultHardLimit          = 10 * time.Second
	defaultMinChunkDuration   = 500 * time.Millisecond
	defaultMaxRetries         = 3
	defaultRetryBackoff       = time.Second
	defaultChannelOpenTimeout = 5 * time.Second
	defaultTeardownGrace      = 200 * time.Millisecond
	defaultCaptureStopTimeout = 5 * time.Second
	completeTimeout           = 10 * time.Second
)

// Config controls chunked recording behavior.
type Config struct {
	DefaultTitle string
	// HardLimit is the fixed length of every captured chunk.
	HardLimit        time.Duration
	MinChunkDuration time.Duration
	// MaxRetries is the number of retries after a failed capture cycle; the
	// loop aborts on consecutive failure number MaxRetries+1.
	MaxRetries         int
	RetryBackoff       time.Duration
	ChannelOpenTimeout time.Duration
	CaptureStopTimeout time.Duration
	TeardownGrace      time.Duration
	ModelSize          string
	FilterHint         *string
	Preflight          bool
}

// Dependencies are the collaborators of a SessionController. Journal, Rules
// and Clipboard are optional.
type Dependencies struct {
	Recorder   ports.AudioRecorder
	Permission ports.PermissionChecker
	Meetings   ports.MeetingsAPI
	Dialer     ports.ChannelDialer
	Journal    ports.Journal
	Rules      ports.RulesEngine
	Clipboard  ports.Clipboard
	Events     ports.EventSink
	Logger     *zap.SugaredLogger
}

// SessionController is the streaming recorder: it starts a backend session,
// captures and streams chunks, reconciles transcription events and tears it
// all down again.
type SessionController struct {
	recorder   ports.AudioRecorder
	permission ports.PermissionChecker
	meetings   ports.MeetingsAPI
	dialer     ports.ChannelDialer
	journal    ports.Journal
	events     ports.EventSink
	finalizer  transcriptFinalizer
	logger     *zap.SugaredLogger
	cfg        Config
	now        func() time.Time

	mu       sync.Mutex
	starting bool
	shutdown bool
	current  *activeSession
	lastView *transcriptView
}

func NewSessionController(deps Dependencies, cfg Config) *SessionController {
	if strings.TrimSpace(cfg.DefaultTitle) == "" {
		cfg.DefaultTitle = defaultTitle
	}
	if cfg.HardLimit <= 0 {
		cfg.HardLimit = defaultHardLimit
	}
	if cfg.MinChunkDuration <= 0 {
		cfg.MinChunkDuration = defaultMinChunkDuration
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.ChannelOpenTimeout <= 0 {
		cfg.ChannelOpenTimeout = defaultChannelOpenTimeout
	}
	if cfg.CaptureStopTimeout <= 0 {
		cfg.CaptureStopTimeout = defaultCaptureStopTimeout
	}
	if cfg.TeardownGrace <= 0 {
		cfg.TeardownGrace = defaultTeardownGrace
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	journal := deps.Journal
	if journal == nil {
		journal = nopJournal{}
	}

	return &SessionController{
		recorder:   deps.Recorder,
		permission: deps.Permission,
		meetings:   deps.Meetings,
		dialer:     deps.Dialer,
		journal:    journal,
		events:     deps.Events,
		finalizer:  newTranscriptFinalizer(deps.Rules, deps.Clipboard, deps.Events),
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Start creates a backend session, opens its channel and begins capturing.
// Nothing is retained when it fails.
func (c *SessionController) Start(ctx context.Context, title string) (domain.RecordingSession, error) {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return domain.RecordingSession{}, ErrShutdown
	}
	if c.starting || c.current != nil {
		c.mu.Unlock()
		return domain.RecordingSession{}, ErrSessionActive
	}
	c.starting = true
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.SessionStateStarting, domain.SessionReasonStarting)

	active, err := c.open(ctx, title)
	if err != nil {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()

		c.logger.Warnw("recording start failed", "error", err)
		c.events.SessionError(startErrorCode(err), err.Error())
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonStartFailed)
		return domain.RecordingSession{}, err
	}

	c.mu.Lock()
	c.starting = false
	if c.shutdown {
		c.mu.Unlock()
		active.cancel()
		_ = active.channel.Close()
		c.logger.Warnw("recorder shut down during start, abandoning session", "session_id", active.session.ID)
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonRecordingStopped)
		return domain.RecordingSession{}, ErrShutdown
	}
	c.current = active
	c.lastView = active.view
	c.launch(active)
	c.mu.Unlock()

	c.logger.Infow("recording started", "session_id", active.session.ID, "title", active.session.Title)
	c.events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	return active.session, nil
}

// open runs the start sequence: permission, optional preflight, backend
// session, channel. Errors wrap the domain start errors.
func (c *SessionController) open(ctx context.Context, title string) (*activeSession, error) {
	granted, err := c.permission.MicrophoneGranted(ctx)
	if err != nil {
		return nil, fmt.Errorf("check microphone permission: %w", err)
	}
	if !granted {
		return nil, domain.ErrPermissionDenied
	}

	if c.cfg.Preflight {
		if err := c.meetings.Health(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnreachable, err)
		}
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = c.cfg.DefaultTitle
	}
	session, err := c.meetings.CreateMeeting(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSessionCreate, err)
	}
	if session.Title == "" {
		session.Title = title
	}

	channel, err := c.openChannel(ctx, session.ID)
	if err != nil {
		c.logger.Warnw("channel open failed, abandoning session", "session_id", session.ID, "error", err)
		return nil, err
	}

	c.journalWrite("save session", func(ctx context.Context) error {
		return c.journal.SaveSession(ctx, session)
	})

	captureCtx, cancel := context.WithCancel(context.Background())
	view := newTranscriptView()
	results := make(chan transmitResult, 16)
	return &activeSession{
		session: session,
		channel: channel,
		ctx:     captureCtx,
		cancel:  cancel,
		view:    view,
		results: results,
		transmitter: &transmitter{
			channel:    channel,
			view:       view,
			events:     c.events,
			results:    results,
			modelSize:  c.cfg.ModelSize,
			filterHint: c.cfg.FilterHint,
			logger:     c.logger.With("session_id", session.ID),
		},
		captureDone:   make(chan struct{}),
		reconcileDone: make(chan struct{}),
		state:         domain.SessionStateRecording,
	}, nil
}

func (c *SessionController) openChannel(ctx context.Context, sessionID string) (ports.TranscriptionChannel, error) {
	openCtx, cancel := context.WithTimeout(ctx, c.cfg.ChannelOpenTimeout)
	defer cancel()

	channel, err := c.dialer.Open(openCtx, sessionID)
	if err == nil && openCtx.Err() != nil {
		err = openCtx.Err()
	}
	if err == nil && channel.State() != domain.ChannelStateOpen {
		err = fmt.Errorf("channel is %s", channel.State())
	}
	if err != nil {
		if channel != nil {
			_ = channel.Close()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrChannelConnect, err)
	}
	return channel, nil
}

// launch starts the reconciler and the capture loop. Callers hold c.mu so a
// concurrent Stop never sees a session whose goroutines are not running.
func (c *SessionController) launch(active *activeSession) {
	logger := c.logger.With("session_id", active.session.ID)

	rec := &reconciler{
		sessionID: active.session.ID,
		channel:   active.channel,
		results:   active.results,
		view:      active.view,
		journal:   c.journal,
		events:    c.events,
		logger:    logger,
		onChannelClosed: func(err error) {
			c.channelClosed(active, err)
		},
	}
	loop := &captureLoop{
		recorder:     c.recorder,
		sink:         active.transmitter,
		hardLimit:    c.cfg.HardLimit,
		minDuration:  c.cfg.MinChunkDuration,
		maxRetries:   c.cfg.MaxRetries,
		retryBackoff: c.cfg.RetryBackoff,
		now:          c.now,
		logger:       logger,
		onFatal: func(err error) {
			go c.forceStop(active, domain.ErrorCodeRecordingFailed, domain.SessionReasonRecordingFailed, err)
		},
	}

	go rec.run(active.reconcileDone)
	go loop.run(active.ctx, active.captureDone)
}

func (c *SessionController) channelClosed(active *activeSession, err error) {
	if active.expectedStop() {
		return
	}
	if err == nil {
		err = errors.New("connection closed by server")
	}
	c.logger.Errorw("transcription channel lost", "session_id", active.session.ID, "error", err)
	go c.forceStop(active, domain.ErrorCodeChannelLost, domain.SessionReasonChannelLost, fmt.Errorf("%w: %v", domain.ErrChannelLost, err))
}

// forceStop stops a session after a fatal error unless a stop already began.
func (c *SessionController) forceStop(active *activeSession, code domain.ErrorCode, reason domain.SessionStateReason, cause error) {
	if !active.stopping.CompareAndSwap(false, true) {
		return
	}
	c.events.SessionError(code, cause.Error())
	_, _ = c.stop(context.Background(), active, reason)
}

// Stop ends the active session and returns the finalized transcript. Only the
// first of several concurrent calls does any work.
func (c *SessionController) Stop(ctx context.Context) (domain.StopResult, error) {
	active, err := c.getCurrent()
	if err != nil {
		return domain.StopResult{}, err
	}
	if !active.stopping.CompareAndSwap(false, true) {
		return domain.StopResult{}, ErrStopInProgress
	}
	return c.stop(ctx, active, "")
}

// stop tears a session down in order: token, device, capture loop, channel,
// transmissions, reconciler, backend completion, transcript. A non-empty
// forced reason replaces the finalizer's reason in the final state.
func (c *SessionController) stop(ctx context.Context, active *activeSession, forced domain.SessionStateReason) (domain.StopResult, error) {
	sessionID := active.session.ID
	logger := c.logger.With("session_id", sessionID)

	active.cancel()
	active.setState(domain.SessionStateStopping)
	c.events.SessionStateChanged(domain.SessionStateStopping, domain.SessionReasonStopping)

	path, err := c.recorder.Stop(ctx)
	switch {
	case err == nil:
		removeChunkFile(path, logger)
	case errors.Is(err, domain.ErrNotRecording), errors.Is(err, domain.ErrDeviceReleased):
	default:
		logger.Warnw("failed to stop recorder", "error", err)
		c.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
	}

	if !waitDone(active.captureDone, c.cfg.CaptureStopTimeout) {
		logger.Warnw("capture loop did not exit in time")
	}

	_ = active.channel.Close()
	active.transmitter.drain()
	close(active.results)
	<-active.reconcileDone

	c.complete(ctx, active)

	result, reason, finalizeErr := c.finalizer.Finalize(ctx, active.view.Raw())
	snapshot := active.view.snapshot()
	result.SessionID = sessionID
	result.Segments = len(snapshot.segments)
	result.Summaries = len(snapshot.summaries)

	state := domain.SessionStateIdle
	if finalizeErr != nil {
		state = domain.SessionStateError
	}
	if forced != "" {
		reason = forced
	}
	c.finish(active, state, reason)

	logger.Infow("recording stopped", "segments", result.Segments, "summaries", result.Summaries, "reason", reason)
	return result, finalizeErr
}

// complete marks the session completed on the backend and in the journal.
// Both are best effort.
func (c *SessionController) complete(ctx context.Context, active *activeSession) {
	sessionID := active.session.ID
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		if _, err := c.meetings.CompleteMeeting(ctx, sessionID); err != nil {
			c.logger.Warnw("failed to mark session completed", "session_id", sessionID, "error", err)
			c.events.SessionError(domain.ErrorCodeSessionComplete, err.Error())
			return err
		}
		active.view.markCompleted()
		return nil
	})
	g.Go(func() error {
		if err := c.journal.CompleteSession(ctx, sessionID); err != nil {
			c.logger.Warnw("journal write failed", "op", "complete session", "error", err)
			return err
		}
		return nil
	})
	_ = g.Wait()
}

// Shutdown releases the recording device for good, tearing down any active
// session on the way: token, channel, grace delay, device stop, device release.
// A Start still in progress is abandoned and later starts fail with ErrShutdown.
func (c *SessionController) Shutdown() {
	c.mu.Lock()
	c.shutdown = true
	active := c.current
	c.mu.Unlock()

	if active != nil && active.stopping.CompareAndSwap(false, true) {
		active.cancel()
		active.setState(domain.SessionStateStopping)
		_ = active.channel.Close()

		if c.cfg.TeardownGrace > 0 {
			time.Sleep(c.cfg.TeardownGrace)
		}
		if path, err := c.recorder.Stop(context.Background()); err == nil {
			removeChunkFile(path, c.logger)
		}
		if err := c.recorder.Release(); err != nil {
			c.logger.Warnw("failed to release recorder", "error", err)
		}

		waitDone(active.captureDone, c.cfg.CaptureStopTimeout)
		active.transmitter.drain()
		close(active.results)
		<-active.reconcileDone
		c.finish(active, domain.SessionStateIdle, domain.SessionReasonRecordingStopped)
		return
	}

	if err := c.recorder.Release(); err != nil {
		c.logger.Warnw("failed to release recorder", "error", err)
	}
}

// Status returns the current recorder status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	active := c.current
	starting := c.starting
	view := c.lastView
	c.mu.Unlock()

	if active == nil {
		status := domain.Status{State: domain.SessionStateIdle}
		if starting {
			status.State = domain.SessionStateStarting
			status.Active = true
		}
		if view != nil {
			snapshot := view.snapshot()
			status.SegmentCount = len(snapshot.segments)
			status.SummaryCount = len(snapshot.summaries)
			status.StatusText = snapshot.statusText
		}
		return status
	}

	snapshot := active.view.snapshot()
	return domain.Status{
		State:        active.getState(),
		Active:       true,
		SessionID:    active.session.ID,
		Title:        active.session.Title,
		Meeting:      snapshot.meetingStatus,
		Channel:      active.channel.State(),
		Processing:   snapshot.processing,
		StatusText:   snapshot.statusText,
		SegmentCount: len(snapshot.segments),
		SummaryCount: len(snapshot.summaries),
	}
}

// Segments returns the transcript of the current or most recent session.
func (c *SessionController) Segments() []domain.TranscriptSegment {
	c.mu.Lock()
	view := c.lastView
	c.mu.Unlock()
	if view == nil {
		return []domain.TranscriptSegment{}
	}
	return view.snapshot().segments
}

// Summaries returns the summaries of the current or most recent session.
func (c *SessionController) Summaries() []domain.SummaryRecord {
	c.mu.Lock()
	view := c.lastView
	c.mu.Unlock()
	if view == nil {
		return []domain.SummaryRecord{}
	}
	return view.snapshot().summaries
}

func (c *SessionController) getCurrent() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

func (c *SessionController) finish(active *activeSession, state domain.SessionState, reason domain.SessionStateReason) {
	active.setState(state)

	c.mu.Lock()
	if c.current == active {
		c.current = nil
	}
	c.mu.Unlock()

	c.events.SessionStateChanged(state, reason)
}

func (c *SessionController) journalWrite(op string, write func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := write(ctx); err != nil {
		c.logger.Warnw("journal write failed", "op", op, "error", err)
	}
}

func startErrorCode(err error) domain.ErrorCode {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return domain.ErrorCodePermission
	case errors.Is(err, domain.ErrBackendUnreachable):
		return domain.ErrorCodeBackendUnreachable
	case errors.Is(err, domain.ErrSessionCreate):
		return domain.ErrorCodeSessionCreate
	case errors.Is(err, domain.ErrChannelConnect):
		return domain.ErrorCodeChannelConnect
	default:
		return domain.ErrorCodeStartup
	}
}

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

type nopJournal struct{}

func (nopJournal) SaveSession(context.Context, domain.RecordingSession) error { return nil }

func (nopJournal) AppendSegment(context.Context, string, domain.TranscriptSegment) error {
	return nil
}

func (nopJournal) AppendSummary(context.Context, string, domain.SummaryRecord) error { return nil }

func (nopJournal) CompleteSession(context.Context, string) error { return nil }
