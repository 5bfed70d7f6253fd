package models

// TransitionType enumerates the supported preprocessed transitions. Anything
// else degrades to a basic fade at render time, never rejects the job.
type TransitionType string

const (
	TransitionFade      TransitionType = "fade"
	TransitionFadeBlack TransitionType = "fadeblack"
	TransitionFadeWhite TransitionType = "fadewhite"
	TransitionCut       TransitionType = "cut"
)

// NormalizeTransition maps a raw transition type to a supported one. The
// second return reports whether the input had to be degraded.
func NormalizeTransition(raw string) (TransitionType, bool) {
	switch TransitionType(raw) {
	case TransitionFade, TransitionFadeBlack, TransitionFadeWhite, TransitionCut:
		return TransitionType(raw), false
	case "":
		return TransitionCut, false
	default:
		return TransitionFade, true
	}
}

type Transition struct {
	Type     string  `json:"type" validate:"omitempty"`
	Duration float64 `json:"duration" validate:"gte=0"`
}

// AssetRef is the shared shape of all downloadable references. LocalPath is
// populated by the downloader and is the source of truth for later stages.
type AssetRef struct {
	URL       string `json:"url" validate:"required"`
	LocalPath string `json:"local_path,omitempty"`
}

type ImageRef struct {
	AssetRef
}

type VideoRef struct {
	AssetRef
}

type AudioRef struct {
	AssetRef
	Content    string  `json:"content,omitempty"`
	StartDelay float64 `json:"start_delay" validate:"gte=0"`
	EndDelay   float64 `json:"end_delay" validate:"gte=0"`
}

type BackgroundMusic struct {
	AssetRef
	Volume  float64 `json:"volume" validate:"gte=0,lte=2"`
	FadeIn  float64 `json:"fade_in" validate:"gte=0"`
	FadeOut float64 `json:"fade_out" validate:"gte=0"`
}

type TextBox struct {
	Color   string `json:"color,omitempty"`
	Padding int    `json:"padding,omitempty"`
}

type TextOverlay struct {
	Text     string   `json:"text" validate:"required"`
	Start    float64  `json:"start" validate:"gte=0"`
	End      float64  `json:"end" validate:"gtefield=Start"`
	Font     string   `json:"font,omitempty"`
	Size     int      `json:"size,omitempty"`
	Color    string   `json:"color,omitempty"`
	Position string   `json:"position,omitempty"`
	Box      *TextBox `json:"box,omitempty"`
}

type Segment struct {
	ID            string        `json:"id" validate:"required"`
	Image         *ImageRef     `json:"image,omitempty"`
	Video         *VideoRef     `json:"video,omitempty"`
	VoiceOver     *AudioRef     `json:"voice_over,omitempty"`
	TextOver      []TextOverlay `json:"text_over,omitempty" validate:"dive"`
	TransitionIn  *Transition   `json:"transition_in,omitempty"`
	TransitionOut *Transition   `json:"transition_out,omitempty"`
}

// UsesVideo reports whether the segment renders from its video reference.
// When both visuals are present the video wins.
func (s *Segment) UsesVideo() bool {
	return s.Video != nil && s.Video.URL != ""
}

// TransitionInSpec returns the normalized inbound transition.
func (s *Segment) TransitionInSpec() (TransitionType, float64, bool) {
	return transitionSpec(s.TransitionIn)
}

// TransitionOutSpec returns the normalized outbound transition.
func (s *Segment) TransitionOutSpec() (TransitionType, float64, bool) {
	return transitionSpec(s.TransitionOut)
}

func transitionSpec(t *Transition) (TransitionType, float64, bool) {
	if t == nil || t.Duration <= 0 {
		return TransitionCut, 0, false
	}
	typ, degraded := NormalizeTransition(t.Type)
	if typ == TransitionCut {
		return TransitionCut, 0, degraded
	}
	return typ, t.Duration, degraded
}

// Job is the validated input document describing one composition task.
type Job struct {
	JobID           string           `json:"job_id,omitempty"`
	Segments        []Segment        `json:"segments" validate:"required,min=1,dive"`
	BackgroundMusic *BackgroundMusic `json:"background_music,omitempty"`
	Niche           string           `json:"niche,omitempty"`
	Keywords        []string         `json:"keywords,omitempty"`
	Title           string           `json:"title,omitempty"`
	Description     string           `json:"description,omitempty"`
}

// AssetKind tags an asset binding for download policy decisions.
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
	AssetAudio AssetKind = "audio"
	AssetMusic AssetKind = "background_music"
)

// AssetBinding pairs a mutable asset reference with its owner and kind.
type AssetBinding struct {
	Ref       *AssetRef
	Kind      AssetKind
	SegmentID string
}

// AssetRefs walks the job and returns every asset reference in segment
// order, background music last. Pointers alias the job so the downloader can
// set LocalPath in place.
func (j *Job) AssetRefs() []AssetBinding {
	var refs []AssetBinding
	for i := range j.Segments {
		seg := &j.Segments[i]
		if seg.Video != nil && seg.Video.URL != "" {
			refs = append(refs, AssetBinding{Ref: &seg.Video.AssetRef, Kind: AssetVideo, SegmentID: seg.ID})
		}
		if seg.Image != nil && seg.Image.URL != "" {
			refs = append(refs, AssetBinding{Ref: &seg.Image.AssetRef, Kind: AssetImage, SegmentID: seg.ID})
		}
		if seg.VoiceOver != nil && seg.VoiceOver.URL != "" {
			refs = append(refs, AssetBinding{Ref: &seg.VoiceOver.AssetRef, Kind: AssetAudio, SegmentID: seg.ID})
		}
	}
	if j.BackgroundMusic != nil && j.BackgroundMusic.URL != "" {
		refs = append(refs, AssetBinding{Ref: &j.BackgroundMusic.AssetRef, Kind: AssetMusic})
	}
	return refs
}
