package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/sashabaranov/go-openai"
)

const (
	titleInstructions = "You name meeting and voice-note recordings. Reply with a short title of at most eight words, no quotes and no trailing punctuation."
	maxTranscriptRunes = 4000
	maxTitleRunes      = 80
)

// OpenAIClient generates recording titles from transcripts.
type OpenAIClient struct {
	Client             *openai.Client
	Model              string
	SystemInstructions string
	logger             *log.Logger
}

func NewOpenAIClient(apiKey, model string, logger *log.Logger) *OpenAIClient {
	return NewOpenAIClientWithConfig(openai.DefaultConfig(apiKey), model, logger)
}

func NewOpenAIClientWithConfig(cfg openai.ClientConfig, model string, logger *log.Logger) *OpenAIClient {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		Client:             openai.NewClientWithConfig(cfg),
		Model:              model,
		SystemInstructions: titleInstructions,
		logger:             logger,
	}
}

// Title asks the model for a short title. Long transcripts are cut to their
// opening part.
func (c *OpenAIClient) Title(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", errors.New("empty transcript")
	}
	if r := []rune(transcript); len(r) > maxTranscriptRunes {
		transcript = string(r[:maxTranscriptRunes])
	}

	resp, err := c.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.SystemInstructions},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
		MaxTokens:   24,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices")
	}

	title := cleanTitle(resp.Choices[0].Message.Content)
	if title == "" {
		return "", errors.New("blank title")
	}
	c.logger.Debug("generated title", "title", title, "tokens", resp.Usage.TotalTokens)
	return title, nil
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'` ")
	s = strings.TrimRight(s, ".!?")
	if r := []rune(s); len(r) > maxTitleRunes {
		s = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	return s
}
