package mt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/logging"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	anthropicMaxTokens    = 1024
)

type messageCreator interface {
	CreateMessages(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error)
}

// AnthropicProvider translates through the Anthropic messages API.
type AnthropicProvider struct {
	client messageCreator
	model  string
	logger *zap.Logger
}

// NewAnthropicProvider creates a provider. An empty baseURL uses the public API.
func NewAnthropicProvider(baseURL, apiKey, model string, logger *zap.Logger) *AnthropicProvider {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
		logger: logger.Named("mt-anthropic"),
	}
}

var _ Provider = (*AnthropicProvider)(nil)

func (p *AnthropicProvider) Name() string {
	return "anthropic:" + p.model
}

func (p *AnthropicProvider) Candidates(ctx context.Context, text, from, to string) ([]string, error) {
	start := time.Now()
	prompt := buildPrompt(text, from, to)

	resp, err := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(p.model),
		MaxTokens: anthropicMaxTokens,
		System:    systemPrompt,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		p.logger.Error("Translation request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, ClassifyError(p.Name(), err)
	}

	reply := textFromResponse(resp)
	if reply == "" {
		return nil, responseError(p.Name(), "no text in response", nil)
	}

	candidates, err := parseCandidates(reply)
	if err != nil {
		return nil, responseError(p.Name(), fmt.Sprintf("unusable reply for %q", text), err)
	}

	p.logger.Debug("Translation request completed",
		zap.String("to", to),
		zap.Int("candidates", len(candidates)),
		zap.Duration("elapsed", time.Since(start)))
	return candidates, nil
}

func textFromResponse(resp anthropic.MessagesResponse) string {
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text
		}
	}
	return ""
}
