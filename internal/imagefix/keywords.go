package imagefix

import (
	"context"
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/pkg/errors"

	"github.com/clipforge/video-compositor/pkg/logger"
)

const keywordSystemPrompt = `You pick stock-photo search keywords.
Extract 1-5 short English keywords (1-2 words each) for the given video segment
description. Prefer concrete visual terms over abstract concepts.
Respond with JSON: {"keywords": ["..."], "primary_keyword": "..."}`

// KeywordResult is the validated record the pipeline depends on; raw LLM
// output never leaves this package.
type KeywordResult struct {
	Keywords       []string `json:"keywords"`
	PrimaryKeyword string   `json:"primary_keyword"`
}

// KeywordExtractor derives search keywords from segment context, via the LLM
// when configured and a deterministic fallback otherwise.
type KeywordExtractor struct {
	client      *openai.Client
	model       string
	maxKeywords int
	log         logger.Logger
}

func NewKeywordExtractor(client *openai.Client, model string, maxKeywords int, log logger.Logger) *KeywordExtractor {
	if maxKeywords < 1 {
		maxKeywords = 5
	}
	return &KeywordExtractor{client: client, model: model, maxKeywords: maxKeywords, log: log}
}

// Extract returns at least one keyword. Order is search priority.
func (k *KeywordExtractor) Extract(ctx context.Context, prompt string) []string {
	if k == nil || k.client == nil {
		return fallbackKeywords(prompt, k.limit())
	}
	result, err := k.askModel(ctx, prompt)
	if err != nil {
		k.log.Warnf("keyword extraction failed, using fallback: %v", err)
		return fallbackKeywords(prompt, k.limit())
	}
	cleaned := repairKeywords(result, k.limit())
	if len(cleaned) == 0 {
		return fallbackKeywords(prompt, k.limit())
	}
	return cleaned
}

func (k *KeywordExtractor) limit() int {
	if k == nil || k.maxKeywords < 1 {
		return 5
	}
	return k.maxKeywords
}

func (k *KeywordExtractor) askModel(ctx context.Context, prompt string) (*KeywordResult, error) {
	resp, err := k.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: k.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: keywordSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "keyword request failed")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("keyword request returned no choices")
	}
	var decoded KeywordResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &decoded); err != nil {
		return nil, errors.Wrap(err, "keyword response is not valid JSON")
	}
	return &decoded, nil
}

// repairKeywords normalizes and bounds LLM keyword output: trimmed,
// lowercased, deduplicated, primary keyword first, at most limit entries.
func repairKeywords(result *KeywordResult, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(kw string) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] || len(strings.Fields(kw)) > 2 {
			return
		}
		seen[kw] = true
		out = append(out, kw)
	}
	add(result.PrimaryKeyword)
	for _, kw := range result.Keywords {
		add(kw)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func fallbackKeywords(prompt string, limit int) []string {
	words := strings.Fields(strings.ToLower(prompt))
	if len(words) == 0 {
		return []string{"nature"}
	}
	if len(words) > limit {
		words = words[:limit]
	}
	return []string{strings.Join(words, " ")}
}
