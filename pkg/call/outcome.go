package call

import (
	"strings"
	"unicode/utf8"

	"github.com/harunnryd/callprobe/pkg/adapters/stt"
)

// TranscriptKind separates a usable transcript from nothing heard and a
// provider failure.
type TranscriptKind int

const (
	TranscriptSuccess TranscriptKind = iota
	TranscriptEmpty
	TranscriptError
)

func (k TranscriptKind) String() string {
	switch k {
	case TranscriptEmpty:
		return "empty"
	case TranscriptError:
		return "error"
	default:
		return "success"
	}
}

// TranscriptOutcome is the typed result of the transcription step.
type TranscriptOutcome struct {
	Kind     TranscriptKind
	Text     string
	Language string
	Err      error
}

// ClassifyTranscript turns a provider result into an outcome. Transcripts
// shorter than minChars runes count as empty.
func ClassifyTranscript(res stt.Result, err error, minChars int) TranscriptOutcome {
	if err != nil {
		return TranscriptOutcome{Kind: TranscriptError, Err: err}
	}
	text := strings.TrimSpace(res.Text)
	if text == "" || utf8.RuneCountInString(text) < minChars {
		return TranscriptOutcome{Kind: TranscriptEmpty, Text: text, Language: res.LanguageCode}
	}
	return TranscriptOutcome{Kind: TranscriptSuccess, Text: text, Language: res.LanguageCode}
}
