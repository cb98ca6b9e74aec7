package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rekapo/internal/domain"
	"rekapo/internal/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRecorder plays a script of chunk durations. Each successful Stop
// advances the clock by the next duration. Once the script is used up and
// hold is set, Prepare blocks until the loop is cancelled.
type fakeRecorder struct {
	mu    sync.Mutex
	dir   string
	clock *fakeClock

	durations   []time.Duration
	prepareErrs []error
	hold        bool

	recording bool
	released  bool
	waiting   bool

	prepares              int
	captures              int
	stops                 int
	startedWhileRecording bool
}

func newFakeRecorder(t *testing.T, clock *fakeClock, durations ...time.Duration) *fakeRecorder {
	t.Helper()
	return &fakeRecorder{dir: t.TempDir(), clock: clock, durations: durations, hold: true}
}

func (r *fakeRecorder) Prepare(ctx context.Context) error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return domain.ErrDeviceReleased
	}
	r.prepares++
	if len(r.prepareErrs) > 0 {
		err := r.prepareErrs[0]
		r.prepareErrs = r.prepareErrs[1:]
		if err != nil {
			r.mu.Unlock()
			return err
		}
	}
	block := r.hold && r.captures >= len(r.durations)
	if block {
		r.waiting = true
	}
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (r *fakeRecorder) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return domain.ErrDeviceReleased
	}
	if r.recording {
		r.startedWhileRecording = true
	}
	r.recording = true
	return nil
}

func (r *fakeRecorder) Stop(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return "", domain.ErrDeviceReleased
	}
	if !r.recording {
		return "", domain.ErrNotRecording
	}
	r.recording = false
	r.stops++

	duration := 10 * time.Second
	if r.captures < len(r.durations) {
		duration = r.durations[r.captures]
	}
	r.captures++
	r.clock.Advance(duration)

	path := filepath.Join(r.dir, fmt.Sprintf("chunk-%d.wav", r.captures))
	if err := os.WriteFile(path, []byte(fmt.Sprintf("audio-%d", r.captures)), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (r *fakeRecorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *fakeRecorder) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
	r.recording = false
	return nil
}

func (r *fakeRecorder) isWaiting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

func (r *fakeRecorder) isReleased() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

func (r *fakeRecorder) prepareCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prepares
}

func (r *fakeRecorder) leftoverFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		t.Fatalf("read chunk dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

type fakePermission struct {
	granted bool
	err     error
}

func (p fakePermission) MicrophoneGranted(context.Context) (bool, error) {
	return p.granted, p.err
}

type fakeMeetings struct {
	mu          sync.Mutex
	healthErr   error
	createErr   error
	completeErr error

	healthCalls int
	titles      []string
	completed   []string
}

func (m *fakeMeetings) Health(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthCalls++
	return m.healthErr
}

func (m *fakeMeetings) CreateMeeting(_ context.Context, title string) (domain.RecordingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = append(m.titles, title)
	if m.createErr != nil {
		return domain.RecordingSession{}, m.createErr
	}
	return domain.RecordingSession{
		ID:     fmt.Sprintf("%d", 41+len(m.titles)),
		Title:  title,
		Status: domain.MeetingStatusCreated,
	}, nil
}

func (m *fakeMeetings) CompleteMeeting(_ context.Context, id string) (domain.RecordingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, id)
	if m.completeErr != nil {
		return domain.RecordingSession{}, m.completeErr
	}
	return domain.RecordingSession{ID: id, Status: domain.MeetingStatusCompleted}, nil
}

func (m *fakeMeetings) counts() (health int, created int, completed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthCalls, len(m.titles), len(m.completed)
}

type fakeChannel struct {
	mu         sync.Mutex
	state      domain.ChannelState
	sent       []ports.AudioChunkMessage
	sendErr    error
	err        error
	closeCalls int

	events    chan domain.ServerEvent
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{state: domain.ChannelStateOpen, events: make(chan domain.ServerEvent, 32)}
}

func (c *fakeChannel) State() domain.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) SendAudioChunk(msg ports.AudioChunkMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.ChannelStateOpen {
		return domain.ErrChannelNotOpen
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Events() <-chan domain.ServerEvent { return c.events }

func (c *fakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closeCalls++
	c.state = domain.ChannelStateClosed
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

// drop simulates the server or network ending the connection.
func (c *fakeChannel) drop(err error) {
	c.mu.Lock()
	c.err = err
	c.state = domain.ChannelStateClosed
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
}

func (c *fakeChannel) emit(event domain.ServerEvent) {
	c.events <- event
}

func (c *fakeChannel) sentMessages() []ports.AudioChunkMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.AudioChunkMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeChannel) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// fakeDialer hands out one fresh channel per Open. With block set it never
// opens; with late set it opens only after the caller's deadline; with gate
// set it opens once gate is closed.
type fakeDialer struct {
	mu       sync.Mutex
	block    bool
	late     time.Duration
	gate     chan struct{}
	sendErr  error
	channels []*fakeChannel
}

func (d *fakeDialer) Open(ctx context.Context, _ string) (ports.TranscriptionChannel, error) {
	d.mu.Lock()
	ch := newFakeChannel()
	ch.sendErr = d.sendErr
	d.channels = append(d.channels, ch)
	block, late, gate := d.block, d.late, d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if late > 0 {
		time.Sleep(late)
	}
	return ch, nil
}

func (d *fakeDialer) opened() []*fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*fakeChannel, len(d.channels))
	copy(out, d.channels)
	return out
}

func (d *fakeDialer) last(t *testing.T) *fakeChannel {
	t.Helper()
	channels := d.opened()
	if len(channels) == 0 {
		t.Fatalf("no channel was opened")
	}
	return channels[len(channels)-1]
}

type fakeJournal struct {
	mu        sync.Mutex
	sessions  []string
	segments  []int
	summaries []string
	completed []string
	err       error
}

func (j *fakeJournal) SaveSession(_ context.Context, session domain.RecordingSession) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sessions = append(j.sessions, session.ID)
	return j.err
}

func (j *fakeJournal) AppendSegment(_ context.Context, _ string, segment domain.TranscriptSegment) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.segments = append(j.segments, segment.SegmentNumber)
	return j.err
}

func (j *fakeJournal) AppendSummary(_ context.Context, _ string, summary domain.SummaryRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.summaries = append(j.summaries, summary.ChunkRangeLabel)
	return j.err
}

func (j *fakeJournal) CompleteSession(_ context.Context, sessionID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completed = append(j.completed, sessionID)
	return j.err
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type fakeClipboard struct {
	mu       sync.Mutex
	lastText string
	calls    int
	err      error
}

func (f *fakeClipboard) SetText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastText = text
	return f.err
}

type fakeEventSink struct {
	mu sync.Mutex

	states     []stateEvent
	errors     []errEvent
	statusText []string
	processing []bool
	segments   []domain.TranscriptSegment
	summaries  []domain.SummaryRecord
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) StatusText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusText = append(f.statusText, text)
}

func (f *fakeEventSink) ProcessingChanged(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing = append(f.processing, active)
}

func (f *fakeEventSink) SegmentAppended(segment domain.TranscriptSegment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, segment)
}

func (f *fakeEventSink) SummaryAppended(summary domain.SummaryRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) segmentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.segments)
}

func (f *fakeEventSink) hasError(code domain.ErrorCode) bool {
	for _, e := range f.snapshotErrors() {
		if e.code == code {
			return true
		}
	}
	return false
}

func (f *fakeEventSink) lastState() stateEvent {
	states := f.snapshotStates()
	if len(states) == 0 {
		return stateEvent{}
	}
	return states[len(states)-1]
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errFlaky = errors.New("device busy")
