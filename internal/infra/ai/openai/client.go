package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	domai "github.com/bryanwahyu/bimwatch/internal/domain/ai"
	"github.com/bryanwahyu/bimwatch/internal/infra/ai/prompt"
)

const maxTokens = 2048

// Client implements the EmbeddingProvider and Describer capabilities on the
// OpenAI API. Image embeddings are produced by captioning the image with
// the vision model and embedding the caption text.
type Client struct {
	*openai.Client
	ChatModel  string
	EmbedModel string
}

func NewClient(apiKey, baseURL, chatModel, embedModel string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if chatModel == "" {
		chatModel = "gpt-4o"
	}
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
	}
	return &Client{Client: openai.NewClientWithConfig(cfg), ChatModel: chatModel, EmbedModel: embedModel}
}

func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.EmbedModel),
	})
	if err != nil {
		return nil, wrapQuota(fmt.Errorf("create embeddings: %w", err))
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

func (c *Client) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	caption, err := c.vision(ctx, image, "", prompt.GetCaptionPrompt())
	if err != nil {
		return nil, err
	}
	return c.EmbedText(ctx, caption)
}

func (c *Client) Describe(ctx context.Context, image []byte, contextLines []string, extraContext string) (string, error) {
	return c.vision(ctx, image, prompt.GetSystemPrompt(), prompt.GetUserPrompt(contextLines, extraContext))
}

func (c *Client) Summarize(ctx context.Context, summaryPrompt string) (string, error) {
	resp, err := c.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.ChatModel,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: summaryPrompt},
		},
	})
	if err != nil {
		return "", wrapQuota(fmt.Errorf("failed to create chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) vision(ctx context.Context, image []byte, system, user string) (string, error) {
	dataURI := fmt.Sprintf("data:%s;base64,%s",
		http.DetectContentType(image),
		base64.StdEncoding.EncodeToString(image),
	)

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: user},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURI,
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	})

	resp, err := c.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.ChatModel,
		MaxTokens: maxTokens,
		Messages:  messages,
	})
	if err != nil {
		return "", wrapQuota(fmt.Errorf("failed to create chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func wrapQuota(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", domai.ErrQuotaExceeded, err)
	}
	return err
}
