package align

import "strings"

// Display constraints for caption spans. Spans hold at most 7 words and 35
// characters; compound words are never split. MinSpanWords is not enforced:
// a span holds a single word when the transcript has only one word or when a
// word cannot share the character budget with its neighbours.
const (
	MaxSpanChars = 35
	MinSpanWords = 2
	MaxSpanWords = 7
)

// SplitTranscript breaks a transcript into display-sized spans with a
// deterministic greedy walk. Used directly when no LLM is configured and as
// the repair path for LLM output.
func SplitTranscript(content string) []string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}

	var spans []string
	var chunk []string
	chunkChars := 0

	flush := func() {
		if len(chunk) > 0 {
			spans = append(spans, strings.Join(chunk, " "))
			chunk = nil
			chunkChars = 0
		}
	}

	for len(words) > 0 {
		next := words[0]
		nextChars := chunkChars + len(next)
		if len(chunk) > 0 {
			nextChars++
		}
		if len(chunk) >= MaxSpanWords || (len(chunk) > 0 && nextChars > MaxSpanChars) {
			flush()
			continue
		}
		chunk = append(chunk, next)
		chunkChars = nextChars
		words = words[1:]
	}
	flush()

	return mergeLoneTrailers(spans)
}

// mergeLoneTrailers folds a single-word final span into its predecessor when
// the merge stays within the character budget, so captions read naturally.
func mergeLoneTrailers(spans []string) []string {
	if len(spans) < 2 {
		return spans
	}
	last := spans[len(spans)-1]
	prev := spans[len(spans)-2]
	if len(strings.Fields(last)) == 1 &&
		len(strings.Fields(prev)) < MaxSpanWords &&
		len(prev)+1+len(last) <= MaxSpanChars {
		spans[len(spans)-2] = prev + " " + last
		spans = spans[:len(spans)-1]
	}
	return spans
}

// RepairSpans validates candidate spans (typically LLM output) against the
// display constraints and deterministically re-splits any violator. The rest
// of the pipeline depends only on the repaired result.
func RepairSpans(candidates []string) []string {
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		words := len(strings.Fields(c))
		if words >= 1 && words <= MaxSpanWords && len(c) <= MaxSpanChars {
			out = append(out, c)
			continue
		}
		out = append(out, SplitTranscript(c)...)
	}
	return mergeLoneTrailers(out)
}

// SpanWordCounts returns the word count of each span.
func SpanWordCounts(spans []string) []int {
	counts := make([]int, len(spans))
	for i, s := range spans {
		counts[i] = len(strings.Fields(s))
	}
	return counts
}
