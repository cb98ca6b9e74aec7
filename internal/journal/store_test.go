package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rekapo/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSessionLifecycle(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	ended := started.Add(5 * time.Minute)

	require.NoError(t, store.SaveSession(ctx, domain.RecordingSession{ID: "42", Title: "Standup", StartTime: started}))

	sess, err := store.Session(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "Standup", sess.Title)
	assert.Equal(t, domain.MeetingStatusCreated, sess.Status)
	assert.True(t, sess.StartedAt.Equal(started))
	assert.Nil(t, sess.EndedAt)

	store.now = func() time.Time { return ended }
	require.NoError(t, store.CompleteSession(ctx, "42"))

	sess, err = store.Session(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingStatusCompleted, sess.Status)
	require.NotNil(t, sess.EndedAt)
	assert.WithinDuration(t, ended, *sess.EndedAt, time.Millisecond)
}

func TestStoreSessionUnknown(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	sess, err := store.Session(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Error(t, store.CompleteSession(context.Background(), "missing"))
}

func TestStoreSegmentsOrderedByNumberThenArrival(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSession(ctx, domain.RecordingSession{ID: "s1", Title: "t"}))

	second := domain.TranscriptSegment{SegmentNumber: 2, OriginalText: "dalawa", TranslatedText: "two", Language: "tl", Duration: 10}
	first := domain.TranscriptSegment{SegmentNumber: 1, OriginalText: "isa", TranslatedText: "one", Language: "tl", Duration: 9.5}
	repeated := domain.TranscriptSegment{SegmentNumber: 1, OriginalText: "again"}
	require.NoError(t, store.AppendSegment(ctx, "s1", second))
	require.NoError(t, store.AppendSegment(ctx, "s1", first))
	require.NoError(t, store.AppendSegment(ctx, "s1", repeated))

	segments, err := store.Segments(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []domain.TranscriptSegment{first, repeated, second}, segments)

	other, err := store.Segments(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStoreSummaries(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSession(ctx, domain.RecordingSession{ID: "s1", Title: "t"}))

	a := domain.SummaryRecord{Text: "intro", ChunkRangeLabel: "Chunks 1-3", ChunkCount: 3}
	b := domain.SummaryRecord{Text: "budget", ChunkRangeLabel: "Chunks 4-6", ChunkCount: 6}
	require.NoError(t, store.AppendSummary(ctx, "s1", a))
	require.NoError(t, store.AppendSummary(ctx, "s1", b))

	summaries, err := store.Summaries(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []domain.SummaryRecord{a, b}, summaries)
}

func TestOpenFileJournalPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "journal.sqlite")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveSession(ctx, domain.RecordingSession{ID: "7", Title: "Retro"}))
	require.NoError(t, store.AppendSegment(ctx, "7", domain.TranscriptSegment{SegmentNumber: 1, OriginalText: "hi"}))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	segments, err := reopened.Segments(ctx, "7")
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "hi", segments[0].OriginalText)
}

func TestStoreHistory(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	missing, err := store.History(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.SaveSession(ctx, domain.RecordingSession{ID: "42", Title: "Planning"}))
	empty, err := store.History(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, empty)
	assert.Equal(t, "Planning", empty.Session.Title)
	assert.Empty(t, empty.Segments)
	assert.NotNil(t, empty.Segments)
	assert.NotNil(t, empty.Summaries)

	segment := domain.TranscriptSegment{SegmentNumber: 1, OriginalText: "hello", TranslatedText: "hello", Language: "en", Duration: 10}
	summary := domain.SummaryRecord{Text: "greetings", ChunkRangeLabel: "Chunk 1", ChunkCount: 1}
	require.NoError(t, store.AppendSegment(ctx, "42", segment))
	require.NoError(t, store.AppendSummary(ctx, "42", summary))
	require.NoError(t, store.CompleteSession(ctx, "42"))

	history, err := store.History(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, history)
	assert.Equal(t, domain.MeetingStatusCompleted, history.Session.Status)
	assert.Equal(t, []domain.TranscriptSegment{segment}, history.Segments)
	assert.Equal(t, []domain.SummaryRecord{summary}, history.Summaries)
}
