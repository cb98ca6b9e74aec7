package journal

import (
	"time"

	"rekapo/internal/domain"
)

// Session is a journaled recording session.
type Session struct {
	ID        string               `json:"id"`
	Title     string               `json:"title"`
	Status    domain.MeetingStatus `json:"status"`
	StartedAt time.Time            `json:"startedAt"`
	EndedAt   *time.Time           `json:"endedAt,omitempty"`
}

// History is everything journaled for one session.
type History struct {
	Session   Session                    `json:"session"`
	Segments  []domain.TranscriptSegment `json:"segments"`
	Summaries []domain.SummaryRecord     `json:"summaries"`
}
