package pipeline

import (
	"github.com/anatolykoptev/go_shorts/internal/engine"
)

// unavailablePlaceholder stands in for any field that did not resolve OK.
const unavailablePlaceholder = "analysis unavailable"

// EvidenceStatus is the outcome of one analysis field.
type EvidenceStatus int

const (
	StatusOK EvidenceStatus = iota
	StatusTimedOut
	StatusFailed
)

func (s EvidenceStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "failed"
	}
}

// Evidence is exactly one of OK(text), TimedOut or Failed(reason).
// The zero value is Failed with no reason, never an empty success.
type Evidence struct {
	status EvidenceStatus
	text   string
	reason string
}

// OK carries an adapter's text. Blank text is not evidence and becomes Failed.
func OK(text string) Evidence {
	if text == "" {
		return Failed("empty result")
	}
	return Evidence{status: StatusOK, text: text}
}

func TimedOut() Evidence { return Evidence{status: StatusTimedOut} }

func Failed(reason string) Evidence {
	return Evidence{status: StatusFailed, reason: reason}
}

func (e Evidence) Status() EvidenceStatus {
	if e.status == StatusOK && e.text == "" {
		return StatusFailed
	}
	return e.status
}

func (e Evidence) IsOK() bool     { return e.Status() == StatusOK }
func (e Evidence) Text() string   { return e.text }
func (e Evidence) Reason() string { return e.reason }

// Kind maps a non-OK field to the adapter failure taxonomy.
func (e Evidence) Kind() FailureKind {
	switch e.Status() {
	case StatusOK:
		return ""
	case StatusTimedOut:
		return KindAdapterTimeout
	default:
		return KindAdapterFailure
	}
}

// Render is the prompt form of the field: the text capped at limit runes,
// or the placeholder tagged with the status and reason.
func (e Evidence) Render(limit int) string {
	switch e.Status() {
	case StatusOK:
		if limit > 0 {
			return engine.TruncateRunes(e.text, limit, "")
		}
		return e.text
	case StatusTimedOut:
		return unavailablePlaceholder + " [timed out]"
	}
	if e.reason == "" {
		return unavailablePlaceholder + " [failed]"
	}
	return unavailablePlaceholder + " [failed: " + engine.TruncateRunes(e.reason, 200, "...") + "]"
}

// Bundle is the evidence gathered for one video.
type Bundle struct {
	VideoID    string
	Transcript Evidence
	Channel    Evidence
	Content    Evidence
	FactCheck  Evidence
}

// Fields lists the four fields in prompt order.
func (b Bundle) Fields() [4]Evidence {
	return [4]Evidence{b.Transcript, b.Channel, b.Content, b.FactCheck}
}

// HasEvidence reports whether at least one field resolved OK.
func (b Bundle) HasEvidence() bool {
	for _, f := range b.Fields() {
		if f.IsOK() {
			return true
		}
	}
	return false
}
