package models

import (
	"encoding/json"
	"testing"
)

const sampleJob = `{
  "job_id": "job-42",
  "niche": "travel",
  "keywords": ["mountains", "hiking"],
  "segments": [
    {
      "id": "intro",
      "image": {"url": "http://ex/a.jpg"},
      "voice_over": {"url": "http://ex/a.mp3", "content": "Hello world", "start_delay": 0.5, "end_delay": 1.0},
      "transition_out": {"type": "fade", "duration": 0.5}
    },
    {
      "id": "main",
      "video": {"url": "http://ex/b.mp4"},
      "image": {"url": "http://ex/b.jpg"},
      "text_over": [{"text": "caption", "start": 0, "end": 2}]
    }
  ],
  "background_music": {"url": "http://ex/bgm.mp3", "volume": 0.3, "fade_in": 1, "fade_out": 2}
}`

func TestJobDecoding(t *testing.T) {
	var job Job
	if err := json.Unmarshal([]byte(sampleJob), &job); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if job.JobID != "job-42" || len(job.Segments) != 2 {
		t.Fatalf("unexpected job shape: %+v", job)
	}
	intro := job.Segments[0]
	if intro.VoiceOver.Content != "Hello world" || intro.VoiceOver.StartDelay != 0.5 {
		t.Errorf("voice_over not decoded: %+v", intro.VoiceOver)
	}
	if job.BackgroundMusic.Volume != 0.3 || job.BackgroundMusic.FadeOut != 2 {
		t.Errorf("background_music not decoded: %+v", job.BackgroundMusic)
	}
}

func TestVideoWinsOverImage(t *testing.T) {
	var job Job
	if err := json.Unmarshal([]byte(sampleJob), &job); err != nil {
		t.Fatal(err)
	}
	if job.Segments[0].UsesVideo() {
		t.Error("image-only segment reports video")
	}
	if !job.Segments[1].UsesVideo() {
		t.Error("segment with both visuals must prefer video")
	}
}

func TestAssetRefsWalksInOrder(t *testing.T) {
	var job Job
	if err := json.Unmarshal([]byte(sampleJob), &job); err != nil {
		t.Fatal(err)
	}
	refs := job.AssetRefs()
	wantKinds := []AssetKind{AssetImage, AssetAudio, AssetVideo, AssetImage, AssetMusic}
	if len(refs) != len(wantKinds) {
		t.Fatalf("expected %d refs, got %d", len(wantKinds), len(refs))
	}
	for i, want := range wantKinds {
		if refs[i].Kind != want {
			t.Errorf("ref %d kind = %s, want %s", i, refs[i].Kind, want)
		}
	}

	// Pointers must alias the job so the downloader can set local paths.
	refs[0].Ref.LocalPath = "/tmp/a.jpg"
	if job.Segments[0].Image.LocalPath != "/tmp/a.jpg" {
		t.Error("AssetRefs does not alias the job")
	}
}

func TestNormalizeTransition(t *testing.T) {
	tests := []struct {
		in       string
		want     TransitionType
		degraded bool
	}{
		{"fade", TransitionFade, false},
		{"fadeblack", TransitionFadeBlack, false},
		{"fadewhite", TransitionFadeWhite, false},
		{"cut", TransitionCut, false},
		{"", TransitionCut, false},
		{"dissolve", TransitionFade, true},
		{"slide", TransitionFade, true},
	}
	for _, tt := range tests {
		got, degraded := NormalizeTransition(tt.in)
		if got != tt.want || degraded != tt.degraded {
			t.Errorf("NormalizeTransition(%q) = %s/%v, want %s/%v", tt.in, got, degraded, tt.want, tt.degraded)
		}
	}
}

func TestTransitionSpec(t *testing.T) {
	seg := Segment{
		ID:            "s",
		TransitionIn:  &Transition{Type: "fadewhite", Duration: 0.75},
		TransitionOut: &Transition{Type: "fade", Duration: 0},
	}
	typ, dur, degraded := seg.TransitionInSpec()
	if typ != TransitionFadeWhite || dur != 0.75 || degraded {
		t.Errorf("unexpected in spec: %s %f %v", typ, dur, degraded)
	}
	// Zero duration collapses to a cut boundary.
	typ, dur, _ = seg.TransitionOutSpec()
	if typ != TransitionCut || dur != 0 {
		t.Errorf("zero-duration transition should be a cut, got %s %f", typ, dur)
	}
}
