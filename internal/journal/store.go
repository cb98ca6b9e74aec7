package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"rekapo/internal/domain"
)

const memoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'created',
	startedAt REAL NOT NULL,
	endedAt REAL,
	createdAt REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS segments (
	id TEXT PRIMARY KEY,
	sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	segmentNumber INTEGER NOT NULL,
	originalText TEXT NOT NULL,
	translatedText TEXT NOT NULL,
	language TEXT NOT NULL,
	duration REAL NOT NULL,
	createdAt REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS segments_session_number ON segments(sessionId, segmentNumber);

CREATE TABLE IF NOT EXISTS summaries (
	id TEXT PRIMARY KEY,
	sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	chunkRange TEXT NOT NULL,
	chunkCount INTEGER NOT NULL,
	createdAt REAL NOT NULL
);
`

// Store is the local SQLite journal of recording sessions.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating when needed) the journal at path and applies the schema.
// Pass ":memory:" for a throwaway journal.
func Open(path string) (*Store, error) {
	dsn := memoryPath
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// Writers are serialized; an in-memory database also lives on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveSession(ctx context.Context, session domain.RecordingSession) error {
	started := session.StartTime
	if started.IsZero() {
		started = s.now()
	}
	status := session.Status
	if status == "" {
		status = domain.MeetingStatusCreated
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, status, startedAt, createdAt)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, status = excluded.status
	`, session.ID, session.Title, string(status), unixFromTime(started), unixFromTime(s.now()))
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

// AppendSegment records a segment in arrival order.
func (s *Store) AppendSegment(ctx context.Context, sessionID string, segment domain.TranscriptSegment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segments (id, sessionId, segmentNumber, originalText, translatedText, language, duration, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), sessionID, segment.SegmentNumber, segment.OriginalText,
		segment.TranslatedText, segment.Language, segment.Duration, unixFromTime(s.now()))
	if err != nil {
		return fmt.Errorf("append segment %d: %w", segment.SegmentNumber, err)
	}
	return nil
}

func (s *Store) AppendSummary(ctx context.Context, sessionID string, summary domain.SummaryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (id, sessionId, content, chunkRange, chunkCount, createdAt)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), sessionID, summary.Text, summary.ChunkRangeLabel, summary.ChunkCount, unixFromTime(s.now()))
	if err != nil {
		return fmt.Errorf("append summary: %w", err)
	}
	return nil
}

// CompleteSession marks the session completed and stamps its end time.
func (s *Store) CompleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, endedAt = ? WHERE id = ?
	`, string(domain.MeetingStatusCompleted), unixFromTime(s.now()), sessionID)
	if err != nil {
		return fmt.Errorf("complete session %s: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("complete session %s: %w", sessionID, sql.ErrNoRows)
	}
	return nil
}

// Session returns the journaled session, or nil when it is unknown.
func (s *Store) Session(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, status, startedAt, endedAt
		FROM sessions
		WHERE id = ?
	`, sessionID)

	var sess Session
	var status string
	var startedAt float64
	var endedAt sql.NullFloat64
	if err := row.Scan(&sess.ID, &sess.Title, &status, &startedAt, &endedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Status = domain.MeetingStatus(status)
	sess.StartedAt = timeFromUnix(startedAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		sess.EndedAt = &t
	}
	return &sess, nil
}

// Segments returns the journaled segments of a session ordered by segment
// number, then arrival.
func (s *Store) Segments(ctx context.Context, sessionID string) ([]domain.TranscriptSegment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT segmentNumber, originalText, translatedText, language, duration
		FROM segments
		WHERE sessionId = ?
		ORDER BY segmentNumber ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []domain.TranscriptSegment
	for rows.Next() {
		var seg domain.TranscriptSegment
		if err := rows.Scan(&seg.SegmentNumber, &seg.OriginalText, &seg.TranslatedText, &seg.Language, &seg.Duration); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// Summaries returns the journaled summaries of a session in arrival order.
func (s *Store) Summaries(ctx context.Context, sessionID string) ([]domain.SummaryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content, chunkRange, chunkCount
		FROM summaries
		WHERE sessionId = ?
		ORDER BY createdAt ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []domain.SummaryRecord
	for rows.Next() {
		var sum domain.SummaryRecord
		if err := rows.Scan(&sum.Text, &sum.ChunkRangeLabel, &sum.ChunkCount); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// History returns the session with its segments and summaries, or nil when
// the session is unknown.
func (s *Store) History(ctx context.Context, sessionID string) (*History, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil || sess == nil {
		return nil, err
	}
	segments, err := s.Segments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	summaries, err := s.Summaries(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	history := &History{
		Session:   *sess,
		Segments:  segments,
		Summaries: summaries,
	}
	if history.Segments == nil {
		history.Segments = []domain.TranscriptSegment{}
	}
	if history.Summaries == nil {
		history.Summaries = []domain.SummaryRecord{}
	}
	return history, nil
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
