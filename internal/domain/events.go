package domain

// EventStatus discriminates inbound transcription channel messages.
type EventStatus string

const (
	EventStatusProcessing EventStatus = "processing"
	EventStatusSuccess    EventStatus = "success"
	EventStatusSummary    EventStatus = "summary"
	EventStatusError      EventStatus = "error"
)

// ServerEvent is one inbound message from the transcription channel. Only the
// fields relevant to Status are populated.
type ServerEvent struct {
	Status             EventStatus `json:"status"`
	SegmentNumber      int         `json:"segment_number,omitempty"`
	Transcription      string      `json:"transcription,omitempty"`
	EnglishTranslation string      `json:"english_translation,omitempty"`
	Language           string      `json:"language,omitempty"`
	Duration           float64     `json:"duration,omitempty"`
	SessionID          string      `json:"session_id,omitempty"`
	Summary            string      `json:"summary,omitempty"`
	ChunkCount         int         `json:"chunk_count,omitempty"`
	Message            string      `json:"message,omitempty"`
}

// Segment builds the transcript segment carried by a success event.
func (e ServerEvent) Segment() TranscriptSegment {
	return TranscriptSegment{
		SegmentNumber:  e.SegmentNumber,
		OriginalText:   e.Transcription,
		TranslatedText: e.EnglishTranslation,
		Language:       e.Language,
		Duration:       e.Duration,
	}
}
