package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const analysisPrompt = `You are a trading chart analyst. Look at the chart image and reply with a
JSON object only: {"verdict": "bullish"|"bearish"|"neutral", "confidence": 0.0-1.0, "reasoning": "..."}.`

// OpenAIAnalyzer calls a vision-capable chat model with the validated image.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

// NewOpenAIAnalyzer builds an analyzer. baseURL may be empty for the default
// endpoint; model must be vision-capable.
func NewOpenAIAnalyzer(apiKey, baseURL, model string) *OpenAIAnalyzer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAnalyzer{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// AnalyzeChart sends the image inline as a data URL and parses the verdict.
func (a *OpenAIAnalyzer) AnalyzeChart(ctx context.Context, imageType string, image []byte) (Verdict, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", imageType, base64.StdEncoding.EncodeToString(image))

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: analysisPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("vision analysis: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, errors.New("vision analysis: empty response")
	}
	return parseVerdict(resp.Choices[0].Message.Content)
}

// parseVerdict tolerates code fences and stray prose around the JSON object.
func parseVerdict(content string) (Verdict, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}
	var v Verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return Verdict{}, fmt.Errorf("vision analysis: unparsable verdict: %w", err)
	}
	if v.Verdict == "" {
		return Verdict{}, errors.New("vision analysis: verdict missing")
	}
	return v, nil
}
