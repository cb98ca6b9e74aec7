package usecase

import (
	"context"
	"strings"

	"rekapo/internal/domain"
	"rekapo/internal/ports"
)

type transcriptFinalizer struct {
	rules     ports.RulesEngine
	clipboard ports.Clipboard
	events    ports.EventSink
}

func newTranscriptFinalizer(rules ports.RulesEngine, clipboard ports.Clipboard, events ports.EventSink) transcriptFinalizer {
	return transcriptFinalizer{rules: rules, clipboard: clipboard, events: events}
}

// Finalize applies vocabulary rules to the joined transcript and copies the
// result to the clipboard. Clipboard failure leaves the transcript usable.
func (f transcriptFinalizer) Finalize(ctx context.Context, raw string) (domain.StopResult, domain.SessionStateReason, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.StopResult{}, domain.SessionReasonNoTranscript, nil
	}

	final := raw
	if f.rules != nil {
		transformed, err := f.rules.Apply(raw)
		if err != nil {
			f.events.SessionError(domain.ErrorCodeRules, err.Error())
			return domain.StopResult{RawTranscript: raw, FinalTranscript: raw}, domain.SessionReasonRulesFailed, err
		}
		final = transformed
	}

	result := domain.StopResult{RawTranscript: raw, FinalTranscript: final}
	if f.clipboard == nil {
		return result, domain.SessionReasonRecordingStopped, nil
	}
	if err := f.clipboard.SetText(ctx, final); err != nil {
		f.events.SessionError(domain.ErrorCodeClipboard, "transcript ready but clipboard write failed")
		return result, domain.SessionReasonTranscriptReadyClipboardFailed, nil
	}
	result.Copied = true
	return result, domain.SessionReasonTranscriptCopied, nil
}
