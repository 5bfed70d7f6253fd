package align

import (
	"math"
	"testing"
)

func wordsFor(tokens []string, step float64) []Word {
	out := make([]Word, len(tokens))
	for i, tok := range tokens {
		out[i] = Word{
			Word:  tok,
			Start: float64(i) * step,
			End:   float64(i)*step + step,
			Case:  "success",
		}
	}
	return out
}

func TestMapSpansBoundsWindowsByWords(t *testing.T) {
	words := wordsFor([]string{"hello", "world", "from", "the", "pipeline"}, 0.5)
	spans := []string{"hello world", "from the pipeline"}

	windows, err := MapSpans(spans, words)
	if err != nil {
		t.Fatal(err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	if windows[0].Start != 0 || windows[0].End != 1.0 {
		t.Errorf("window 0 = %+v, want [0, 1.0]", windows[0])
	}
	if windows[1].Start != 1.0 || windows[1].End != 2.5 {
		t.Errorf("window 1 = %+v, want [1.0, 2.5]", windows[1])
	}
}

func TestMapSpansToleratesPunctuationAndCase(t *testing.T) {
	words := wordsFor([]string{"Hello,", "WORLD!"}, 1)
	windows, err := MapSpans([]string{"hello world"}, words)
	if err != nil {
		t.Fatal(err)
	}
	if windows[0].Start != 0 || windows[0].End != 2 {
		t.Errorf("unexpected window %+v", windows[0])
	}
}

func TestMapSpansToleratesDroppedWords(t *testing.T) {
	// The aligner dropped "the": mapping still brackets each span.
	words := wordsFor([]string{"hello", "world", "pipeline", "rocks"}, 1)
	windows, err := MapSpans([]string{"hello world", "the pipeline rocks"}, words)
	if err != nil {
		t.Fatal(err)
	}
	if windows[1].Start != 2 || windows[1].End != 4 {
		t.Errorf("unexpected window %+v", windows[1])
	}
}

func TestMapSpansMonotonicNonOverlapping(t *testing.T) {
	words := wordsFor([]string{"a", "b", "c", "d", "e", "f"}, 0.3)
	windows, err := MapSpans([]string{"a b", "c d", "e f"}, words)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(windows); i++ {
		if windows[i].Start < windows[i-1].End {
			t.Errorf("windows overlap: %v", windows)
		}
	}
}

func TestMapSpansFailsWhenNothingMatches(t *testing.T) {
	words := wordsFor([]string{"completely", "different"}, 1)
	if _, err := MapSpans([]string{"no overlap here"}, words); err == nil {
		t.Fatal("expected mapping failure")
	}
}

func TestUniformWindowsCoverDuration(t *testing.T) {
	spans := []string{"one two", "three four five", "six"}
	windows := UniformWindows(spans, 6.0)
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}
	if windows[0].Start != 0 {
		t.Errorf("first window starts at %f", windows[0].Start)
	}
	if math.Abs(windows[len(windows)-1].End-6.0) > 1e-9 {
		t.Errorf("last window ends at %f, want 6.0", windows[len(windows)-1].End)
	}
	// Weighted by word count: 2/6, 3/6, 1/6 of the duration.
	if math.Abs(windows[0].End-2.0) > 1e-9 {
		t.Errorf("window 0 ends at %f, want 2.0", windows[0].End)
	}
	for i := 1; i < len(windows); i++ {
		if windows[i].Start != windows[i-1].End {
			t.Errorf("gap between windows %d and %d", i-1, i)
		}
	}
}
