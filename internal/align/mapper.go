package align

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Window is a [Start, End] time range in seconds, relative to the voice-over
// audio.
type Window struct {
	Start float64
	End   float64
}

func normalizeToken(tok string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, tok)
}

// MapSpans assigns each span a time window by matching its words against the
// aligned word sequence with a deterministic longest-match walk. The walk
// tolerates words the aligner dropped: a span's window is bounded by the
// first and last of its words that did align.
func MapSpans(spans []string, words []Word) ([]Window, error) {
	if len(words) == 0 {
		return nil, errors.New("no aligned words to map against")
	}

	windows := make([]Window, 0, len(spans))
	wi := 0
	for _, span := range spans {
		tokens := strings.Fields(span)
		first, last := -1, -1
		for _, tok := range tokens {
			want := normalizeToken(tok)
			if want == "" {
				continue
			}
			// Look a short distance ahead for the token to absorb aligner
			// drops without running away from the cursor.
			matched := -1
			for j := wi; j < len(words) && j < wi+4; j++ {
				if normalizeToken(words[j].Word) == want {
					matched = j
					break
				}
			}
			if matched < 0 {
				continue
			}
			if first < 0 {
				first = matched
			}
			last = matched
			wi = matched + 1
		}
		if first < 0 {
			return nil, errors.Errorf("span %q matched no aligned words", span)
		}
		windows = append(windows, Window{Start: words[first].Start, End: words[last].End})
	}

	for i := 1; i < len(windows); i++ {
		if windows[i].Start < windows[i-1].End {
			windows[i].Start = windows[i-1].End
		}
		if windows[i].End < windows[i].Start {
			return nil, errors.Errorf("span %d maps to an inverted window", i)
		}
	}
	return windows, nil
}

// UniformWindows distributes spans evenly across the total duration,
// weighted by word count. This is the fallback when no aligner is configured,
// the aligner fails, or span mapping fails.
func UniformWindows(spans []string, totalDuration float64) []Window {
	counts := SpanWordCounts(spans)
	totalWords := 0
	for _, c := range counts {
		totalWords += c
	}
	if totalWords == 0 || totalDuration <= 0 {
		return nil
	}

	windows := make([]Window, len(spans))
	cursor := 0.0
	perWord := totalDuration / float64(totalWords)
	for i, c := range counts {
		span := perWord * float64(c)
		windows[i] = Window{Start: cursor, End: cursor + span}
		cursor += span
	}
	// Absorb float drift so the last caption ends with the audio.
	windows[len(windows)-1].End = totalDuration
	return windows
}
