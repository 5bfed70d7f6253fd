package align

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/clipforge/video-compositor/pkg/logger"
)

// Word is one aligned token from the forced-aligner response. Unknown
// response fields are ignored.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Case  string  `json:"case"`
}

type alignResponse struct {
	Words []Word `json:"words"`
}

// Client talks to the forced-aligner HTTP service.
type Client struct {
	endpoint string
	client   *http.Client
	log      logger.Logger
}

func NewClient(endpoint string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Align posts the voice-over audio and its transcript and returns per-word
// timestamps. Words the aligner could not place (a case other than success)
// are filtered out; words with no case are kept. Span mapping tolerates the
// gaps.
func (c *Client) Align(ctx context.Context, audioPath, transcript string) ([]Word, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, errors.Wrapf(err, "open audio %s", audioPath)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, errors.Wrap(err, "create multipart audio part")
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, errors.Wrap(err, "copy audio into request")
	}
	if err := mw.WriteField("transcript", transcript); err != nil {
		return nil, errors.Wrap(err, "write transcript field")
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "finalize multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, errors.Wrap(err, "build aligner request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "aligner request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("aligner returned status %d", resp.StatusCode)
	}

	var decoded alignResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, "decode aligner response")
	}

	words := make([]Word, 0, len(decoded.Words))
	for _, w := range decoded.Words {
		if w.Case == "" || w.Case == "success" {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil, errors.New("aligner returned no aligned words")
	}
	return words, nil
}
