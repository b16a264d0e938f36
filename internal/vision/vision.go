// Package vision turns an uploaded image URL into a short text description
// that can be fed to a text-only roleplay model.
package vision

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Placeholder replaces a description when the vision call fails.
const Placeholder = "[Gambar tidak dapat dianalisis]"

const describePrompt = "Deskripsikan gambar ini secara singkat dan jelas dalam Bahasa Indonesia, " +
	"maksimal tiga kalimat. Sebutkan objek utama, suasana, dan ekspresi orang jika ada."

type Describer interface {
	Describe(ctx context.Context, imageURL string) (string, error)
}

type OpenAIDescriber struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIDescriber points a go-openai client at any OpenAI-compatible base URL.
func NewOpenAIDescriber(baseURL, apiKey, model string, timeout time.Duration) *OpenAIDescriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIDescriber{client: openai.NewClientWithConfig(cfg), model: model, timeout: timeout}
}

func (d *OpenAIDescriber) Describe(ctx context.Context, imageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     d.model,
		MaxTokens: 200,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: describePrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    imageURL,
					Detail: openai.ImageURLDetailLow,
				}},
			},
		}},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision: empty response")
	}
	desc := strings.TrimSpace(resp.Choices[0].Message.Content)
	if desc == "" {
		return "", errors.New("vision: empty description")
	}
	return desc, nil
}

// DescribeOrPlaceholder never fails: any error becomes Placeholder.
func DescribeOrPlaceholder(ctx context.Context, d Describer, imageURL string) (desc string, err error) {
	if d == nil {
		return Placeholder, errors.New("vision: no describer configured")
	}
	desc, err = d.Describe(ctx, imageURL)
	if err != nil {
		return Placeholder, err
	}
	return desc, nil
}
