package usecase

import (
	"fmt"
	"strings"
	"sync"

	"rekapo/internal/domain"
)

// transcriptView is the ordered, append-only state of one recording as shown
// to the user. The reconciler appends to it; transmitters toggle processing.
type transcriptView struct {
	mu sync.Mutex

	segments  []domain.TranscriptSegment
	summaries []domain.SummaryRecord

	lastSegment    int
	lastChunkCount int

	inFlight   int
	processing bool
	statusText string

	meetingStatus domain.MeetingStatus
}

func newTranscriptView() *transcriptView {
	return &transcriptView{meetingStatus: domain.MeetingStatusCreated}
}

// appendSegment adds seg unless its number goes back before the last
// appended one. Repeated numbers are kept.
func (v *transcriptView) appendSegment(seg domain.TranscriptSegment) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.segments) > 0 && seg.SegmentNumber < v.lastSegment {
		return false
	}
	v.segments = append(v.segments, seg)
	v.lastSegment = seg.SegmentNumber
	return true
}

// appendSummary records a summary covering the chunks since the previous one.
// chunkCount is the backend's cumulative count.
func (v *transcriptView) appendSummary(text string, chunkCount int) domain.SummaryRecord {
	v.mu.Lock()
	defer v.mu.Unlock()

	record := domain.SummaryRecord{
		Text:            text,
		ChunkRangeLabel: chunkRangeLabel(v.lastChunkCount, chunkCount),
		ChunkCount:      chunkCount,
	}
	if chunkCount > 0 {
		v.lastChunkCount = chunkCount
	}
	v.summaries = append(v.summaries, record)
	return record
}

func chunkRangeLabel(previous int, current int) string {
	switch {
	case current <= 0:
		return "Latest chunks"
	case current <= previous:
		// The backend restarted its count.
		previous = 0
	}
	first := previous + 1
	if first == current {
		return fmt.Sprintf("Chunk %d", current)
	}
	return fmt.Sprintf("Chunks %d-%d", first, current)
}

// beginTransmit returns true when the processing indicator turned on.
func (v *transcriptView) beginTransmit() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inFlight++
	return v.setProcessingLocked(true)
}

// endTransmit returns true when the processing indicator turned off.
func (v *transcriptView) endTransmit() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.inFlight > 0 {
		v.inFlight--
	}
	if v.inFlight > 0 {
		return false
	}
	return v.setProcessingLocked(false)
}

func (v *transcriptView) setProcessing(active bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.setProcessingLocked(active)
}

func (v *transcriptView) setProcessingLocked(active bool) bool {
	if v.processing == active {
		return false
	}
	v.processing = active
	return true
}

func (v *transcriptView) setStatusText(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statusText = text
}

// markRecording moves the meeting from created to recording and reports
// whether this call made the transition.
func (v *transcriptView) markRecording() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.meetingStatus != domain.MeetingStatusCreated {
		return false
	}
	v.meetingStatus = domain.MeetingStatusRecording
	return true
}

func (v *transcriptView) markCompleted() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.meetingStatus = domain.MeetingStatusCompleted
}

type viewSnapshot struct {
	segments      []domain.TranscriptSegment
	summaries     []domain.SummaryRecord
	processing    bool
	statusText    string
	meetingStatus domain.MeetingStatus
}

func (v *transcriptView) snapshot() viewSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := viewSnapshot{
		segments:      make([]domain.TranscriptSegment, len(v.segments)),
		summaries:     make([]domain.SummaryRecord, len(v.summaries)),
		processing:    v.processing,
		statusText:    v.statusText,
		meetingStatus: v.meetingStatus,
	}
	copy(out.segments, v.segments)
	copy(out.summaries, v.summaries)
	return out
}

// Raw renders the transcript: original speech one segment per line, followed
// by the English translation when the backend produced one that differs.
func (v *transcriptView) Raw() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var original, translated []string
	hasTranslation := false
	for _, seg := range v.segments {
		text := strings.TrimSpace(seg.OriginalText)
		translation := strings.TrimSpace(seg.TranslatedText)
		if text == "" && translation == "" {
			continue
		}
		if text == "" {
			text = translation
		}
		original = append(original, text)
		if translation == "" {
			translation = text
		} else if translation != text {
			hasTranslation = true
		}
		translated = append(translated, translation)
	}

	raw := strings.Join(original, "\n")
	if hasTranslation {
		raw += "\n\nEnglish translation:\n" + strings.Join(translated, "\n")
	}
	return raw
}
