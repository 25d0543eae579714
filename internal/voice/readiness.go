package voice

import (
	"strings"
	"unicode/utf8"
)

const (
	// MinConfidence is the floor below which interim results are noise.
	MinConfidence = 0.6
	minReadyWords = 4
	minReadyChars = 14
)

// Readiness is the filter's verdict on a transcript.
type Readiness int

const (
	Ready Readiness = iota
	DroppedLowConfidence
	DroppedNotReady
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case DroppedLowConfidence:
		return "low_confidence"
	default:
		return "not_ready"
	}
}

// Classify judges one transcript on its own; nothing is buffered between
// events. Finals always pass. Interim results pass when confident and long
// enough to be worth answering.
func Classify(t Transcript) Readiness {
	if t.IsFinal {
		return Ready
	}
	if t.Confidence < MinConfidence {
		return DroppedLowConfidence
	}
	text := strings.TrimSpace(t.Text)
	if len(strings.Fields(text)) < minReadyWords {
		return DroppedNotReady
	}
	if utf8.RuneCountInString(text) >= minReadyChars || endsSentence(text) {
		return Ready
	}
	return DroppedNotReady
}

func endsSentence(text string) bool {
	return strings.HasSuffix(text, ".") || strings.HasSuffix(text, "?") || strings.HasSuffix(text, "!")
}
