package align

import (
	"context"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
	"github.com/pkg/errors"

	"github.com/clipforge/video-compositor/pkg/logger"
)

const splitSystemPrompt = `You split voice-over transcripts into caption spans for video overlay.
Rules: each span is 2-7 words and at most 35 characters, compound words stay together,
spans cover the transcript in order with nothing dropped or rephrased.
Respond with JSON: {"segments": ["span one", "span two", ...]}`

// SpanSplitter produces display spans from a transcript via the configured
// LLM, validated and repaired by the deterministic rule checker so that the
// rest of the pipeline never depends on raw model output.
type SpanSplitter struct {
	client *openai.Client
	model  string
	log    logger.Logger
}

func NewSpanSplitter(client *openai.Client, model string, log logger.Logger) *SpanSplitter {
	return &SpanSplitter{client: client, model: model, log: log}
}

type spanResponse struct {
	Segments []string `json:"segments"`
}

// Split returns repaired caption spans for content. Any LLM failure falls
// back to the rule-based splitter; the result is always usable.
func (s *SpanSplitter) Split(ctx context.Context, content string) []string {
	if s == nil || s.client == nil {
		return SplitTranscript(content)
	}
	spans, err := s.askModel(ctx, content)
	if err != nil {
		s.log.Warnf("llm span split failed, using rule-based splitter: %v", err)
		return SplitTranscript(content)
	}
	repaired := RepairSpans(spans)
	if len(repaired) == 0 {
		return SplitTranscript(content)
	}
	return repaired
}

func (s *SpanSplitter) askModel(ctx context.Context, content string) ([]string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: splitSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "span split request failed")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("span split returned no choices")
	}
	var decoded spanResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &decoded); err != nil {
		return nil, errors.Wrap(err, "span split returned invalid JSON")
	}
	if len(decoded.Segments) == 0 {
		return nil, errors.New("span split returned no segments")
	}
	return decoded.Segments, nil
}
