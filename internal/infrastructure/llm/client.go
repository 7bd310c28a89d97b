// Package llm wraps the Anthropic messages API behind one small
// client. Every model-backed collaborator (identifier, assessor,
// searcher, strategist, description writer) goes through Complete;
// callers parse the returned text with the structured extractor.
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type Config struct {
	APIKey            string
	Model             string
	MaxTokens         int
	Temperature       float64
	RequestsPerMinute int
}

// Request is one completion call. Images are JPEG bytes attached
// before the prompt text. Zero MaxTokens/Temperature fall back to the
// client defaults.
type Request struct {
	System      string
	Prompt      string
	Images      [][]byte
	MaxTokens   int
	Temperature float64
}

// Completer is what the domain services depend on.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Client struct {
	client  anthropic.Client
	cfg     Config
	limiter *rate.Limiter
}

func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = string(anthropic.ModelClaudeSonnet4_0)
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	rpm := cfg.RequestsPerMinute
	if rpm == 0 {
		rpm = 50
	}

	return &Client{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
}

// Complete sends one message and returns the concatenated text blocks
// of the reply. Rate limiting happens here so every collaborator
// shares one budget.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}

	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Images)+1)
	for _, img := range req.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(
			"image/jpeg",
			base64.StdEncoding.EncodeToString(img),
		))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.Model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic message: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(b.Text)
		}
	}

	log.Debug().
		Str("model", c.cfg.Model).
		Int("images", len(req.Images)).
		Int64("input_tokens", msg.Usage.InputTokens).
		Int64("output_tokens", msg.Usage.OutputTokens).
		Msg("completion finished")

	return sb.String(), nil
}
